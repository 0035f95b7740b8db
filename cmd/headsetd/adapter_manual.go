package main

// ManualTrigger is the test/fallback adapter: a press nobody physically made.
// The fusion core cannot tell it apart from a hardware press.
type ManualTrigger struct {
	sink CandidateSink
}

func NewManualTrigger(sink CandidateSink) *ManualTrigger {
	return &ManualTrigger{sink: sink}
}

// SimulateEvent records a "manual-trigger" candidate. It returns false if the
// daemon queue was full.
func (m *ManualTrigger) SimulateEvent() bool {
	if m == nil || m.sink == nil {
		return false
	}
	return m.sink.RecordCandidate(manualTriggerSource)
}
