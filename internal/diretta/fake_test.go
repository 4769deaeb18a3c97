package diretta

import (
	"sync"
	"time"
)

// fakeSession is a scriptable stand-in for the vendor SDK. It records
// every lifecycle call so tests can assert ordering, and reports
// online as soon as Play is called.
type fakeSession struct {
	mu    sync.Mutex
	calls []string

	// accepts decides sink format negotiation; nil accepts anything.
	accepts func(FormatFlags) bool

	openOK    bool
	setSinkOK bool

	opened     bool
	online     bool
	configured FormatFlags
	info       SinkInfo
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		openOK:    true,
		setSinkOK: true,
		info: SinkInfo{
			SupportsPCM:    true,
			SupportsDSD:    true,
			SupportsDSDLSB: true,
			SupportsDSDMSB: true,
			MSModes:        0x07,
		},
	}
}

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

// callLog returns a copy of the recorded calls.
func (f *fakeSession) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeSession) countCalls(name string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeSession) Open(SessionConfig) bool {
	f.record("open")
	if !f.openOK {
		return false
	}
	f.mu.Lock()
	f.opened = true
	f.mu.Unlock()
	return true
}

func (f *fakeSession) Close() {
	f.record("close")
	f.mu.Lock()
	f.opened = false
	f.online = false
	f.mu.Unlock()
}

func (f *fakeSession) SetSink(string, time.Duration, bool, uint32) bool {
	f.record("setSink")
	return f.setSinkOK
}

func (f *fakeSession) CheckSinkSupport(flags FormatFlags) bool {
	if f.accepts == nil {
		return true
	}
	return f.accepts(flags)
}

func (f *fakeSession) SetSinkConfigure(flags FormatFlags) {
	f.record("setSinkConfigure")
	f.mu.Lock()
	f.configured = flags
	f.mu.Unlock()
}

func (f *fakeSession) GetSinkConfigure() FormatFlags {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configured
}

func (f *fakeSession) SinkInfo() SinkInfo          { return f.info }
func (f *fakeSession) InquirySupportFormat(string) { f.record("inquiry") }

func (f *fakeSession) ConfigTransferFixAuto(time.Duration) { f.record("transfer:fixauto") }
func (f *fakeSession) ConfigTransferVarAuto(time.Duration) { f.record("transfer:varauto") }
func (f *fakeSession) ConfigTransferVarMax(time.Duration)  { f.record("transfer:varmax") }

func (f *fakeSession) ConnectPrepare() bool { f.record("connectPrepare"); return true }
func (f *fakeSession) Connect(int) bool     { f.record("connect"); return true }
func (f *fakeSession) ConnectWait() bool    { f.record("connectWait"); return true }

func (f *fakeSession) Disconnect(bool) {
	f.record("disconnect")
	f.mu.Lock()
	f.online = false
	f.mu.Unlock()
}

func (f *fakeSession) IsOnline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeSession) Play() {
	f.record("play")
	f.mu.Lock()
	f.online = true
	f.mu.Unlock()
}

func (f *fakeSession) Stop() {
	f.record("stop")
}

// RunCycle never produces on its own; tests drive ProduceStream
// directly for determinism.
func (f *fakeSession) RunCycle(StreamProducer) bool { return false }

// fakeFinder serves a fixed target list.
type fakeFinder struct {
	targets []Target
	mtu     uint32
	mtuOK   bool
}

func (f *fakeFinder) Open() bool            { return true }
func (f *fakeFinder) Close()                {}
func (f *fakeFinder) FindOutputs() []Target { return f.targets }

func (f *fakeFinder) MeasureSendMTU(string) (uint32, bool) {
	return f.mtu, f.mtuOK
}
