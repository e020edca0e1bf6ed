package main

const (
	MsgFrameAccepted = "Frame accepted. It replaces any frame still waiting for the detector and may be dropped if a newer one arrives first."

	MsgDetached = "The detector has been shut down and no longer accepts frames."

	MsgActivated = "Feature detection is on. Attributes will appear once the next frame has been classified."

	MsgDeactivated = "Feature detection is off. Frames are still accepted but no attributes are computed."

	MsgUnchanged = "Feature detection was already in the requested state."

	MsgNoResultYet = "No frame has been rendered yet."
)

func activeMessage(active bool) string {
	if active {
		return MsgActivated
	}
	return MsgDeactivated
}
