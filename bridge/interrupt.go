package bridge

// interrupt handles the caller speaking over assistant audio. When a response
// is still playing it tells the realtime API how much audio was heard and
// flushes the audio Twilio has buffered.
func (cl *call) interrupt() {
	t, ok := cl.pb.Interrupt()
	if !ok {
		return
	}
	cl.c.metrics.Interruption()
	cl.logger.Info("caller interrupted response", "item_id", t.ItemID, "audio_end_ms", t.AudioEndMS)

	if t.ItemID != "" && cl.up != nil {
		if err := cl.up.Send(TruncateFor(t)); err != nil {
			cl.logger.Warn("truncating interrupted response", "error", err)
		}
	}
	if err := cl.tel.SendClear(cl.streamSID); err != nil {
		cl.logger.Warn("clearing buffered audio", "error", err)
	}
}
