package session

// Playback tracks assistant audio that has been sent to the caller but not
// yet confirmed played, so a barge-in can be truncated at the point the caller
// actually heard.
//
// Timestamps are on the Twilio media stream clock, in milliseconds.
type Playback struct {
	latestMediaTimestamp int64
	lastAssistantItem    string
	markQueue            []string
	responseStart        int64
	responseStarted      bool
}

// Truncation describes an interrupted assistant response.
type Truncation struct {
	// ItemID is the interrupted assistant item, or "" when none was recorded.
	ItemID string
	// AudioEndMS is how much of the response the caller heard.
	AudioEndMS int64
}

// Reset clears all playback state, as at the start of a media stream.
func (p *Playback) Reset() {
	*p = Playback{}
}

// ObserveMedia records the timestamp of an inbound caller audio frame.
func (p *Playback) ObserveMedia(timestamp int64) {
	p.latestMediaTimestamp = timestamp
}

// AckMark removes the oldest outstanding mark. It reports false when no mark
// was outstanding.
func (p *Playback) AckMark() bool {
	if len(p.markQueue) == 0 {
		return false
	}
	p.markQueue = p.markQueue[1:]
	return true
}

// AudioForwarded records one assistant audio chunk sent to the caller,
// followed by a mark named mark. The first chunk of a response pins the
// response start to the latest caller timestamp.
func (p *Playback) AudioForwarded(itemID, mark string) {
	if !p.responseStarted {
		p.responseStart = p.latestMediaTimestamp
		p.responseStarted = true
	}
	if itemID != "" {
		p.lastAssistantItem = itemID
	}
	p.markQueue = append(p.markQueue, mark)
}

// Interrupt handles the caller starting to speak. When assistant audio is
// still in flight it returns the truncation point and resets the state;
// otherwise it returns false and changes nothing.
func (p *Playback) Interrupt() (Truncation, bool) {
	if len(p.markQueue) == 0 || !p.responseStarted {
		return Truncation{}, false
	}

	t := Truncation{
		ItemID:     p.lastAssistantItem,
		AudioEndMS: p.latestMediaTimestamp - p.responseStart,
	}

	p.markQueue = nil
	p.lastAssistantItem = ""
	p.responseStart = 0
	p.responseStarted = false
	return t, true
}

// LatestMediaTimestamp returns the most recent caller audio timestamp.
func (p *Playback) LatestMediaTimestamp() int64 {
	return p.latestMediaTimestamp
}

// LastAssistantItem returns the assistant item currently being played.
func (p *Playback) LastAssistantItem() (string, bool) {
	return p.lastAssistantItem, p.lastAssistantItem != ""
}

// ResponseStart returns when the current assistant response began playing.
func (p *Playback) ResponseStart() (int64, bool) {
	return p.responseStart, p.responseStarted
}

// PendingMarks returns the number of marks sent but not yet acknowledged.
func (p *Playback) PendingMarks() int {
	return len(p.markQueue)
}
