//go:build !diretta

package diretta

// The vendor SDK is C++-only. A narrow cgo shim implementing Session
// and Finder builds under the `diretta` tag against the SDK headers;
// it is distributed with the SDK licence and not part of this tree.
// Plain builds (CI, tests) get these stubs; the fakes in the test
// files stand in for the transport.

func platformSession() (Session, error) {
	return nil, ErrSDKUnavailable
}

func platformFinder() (Finder, error) {
	return nil, ErrSDKUnavailable
}
