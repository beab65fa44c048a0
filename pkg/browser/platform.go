package browser

import "meeting-bot/constant"

// target is a CSS selector, optionally narrowed to elements whose text
// matches a regular expression.
type target struct {
	css  string
	text string
}

// flow describes how to get into and observe a meeting on one platform.
type flow struct {
	continueInBrowser []target
	nameInputs        []target
	dismiss           []target
	joinButtons       []target
	// leaveSelectors are visible only once the bot is inside the meeting.
	leaveSelectors []string
	// removedTexts are shown when the bot was kicked or denied entry.
	removedTexts       []string
	speakersScript     string
	participantsScript string
	captionsScript     string
}

var flows = map[constant.Platform]flow{
	constant.PlatformTeams: {
		continueInBrowser: []target{
			{css: "[data-tid='joinOnWeb']"},
			{css: "button", text: "Continue on this browser"},
			{css: "a", text: "Continue on this browser"},
			{css: "button", text: "Use web app instead"},
		},
		nameInputs: []target{
			{css: "input[placeholder='Type your name']"},
			{css: "input[data-tid='prejoin-display-name-input']"},
			{css: "input[placeholder*='your name']"},
			{css: "#prejoin-input-name"},
		},
		dismiss: []target{
			{css: "button", text: "Continue without audio or video"},
		},
		joinButtons: []target{
			{css: "button[data-tid='prejoin-join-button']"},
			{css: "button", text: "Join now"},
			{css: "[data-tid='joinButton']"},
			{css: "button.join-btn"},
		},
		leaveSelectors: []string{
			"button[data-tid='hangup-button']",
			"button[data-tid='call-hangup']",
			"#hangup-button",
			"button[id*='hangup']",
			"button[aria-label*='Leave']",
			"button[aria-label*='Hang up']",
		},
		removedTexts: []string{
			"You were removed from the meeting",
			"You can't join this meeting",
			"Meeting has ended",
		},
		speakersScript:     teamsSpeakersJS,
		participantsScript: teamsParticipantsJS,
		captionsScript:     teamsCaptionsJS,
	},
	constant.PlatformGoogleMeet: {
		dismiss: []target{
			{css: "button", text: "Continue without microphone and camera"},
		},
		nameInputs: []target{
			{css: "input[placeholder='Your name']"},
			{css: "input[aria-label='Your name']"},
			{css: "input[placeholder='Enter your name']"},
		},
		joinButtons: []target{
			{css: "button", text: "^Ask to join$"},
			{css: "button", text: "^Join now$"},
			{css: "button", text: "^Join$"},
		},
		leaveSelectors: []string{
			"button[aria-label*='Leave call']",
		},
		removedTexts: []string{
			"You've been removed from the meeting",
			"You can't join this video call",
			"No one responded to your request to join the call",
		},
		speakersScript:     meetSpeakersJS,
		participantsScript: meetParticipantsJS,
		captionsScript:     meetCaptionsJS,
	},
	constant.PlatformZoom: {
		continueInBrowser: []target{
			{css: "a", text: "Join from your browser"},
			{css: "a", text: "join from your browser"},
		},
		nameInputs: []target{
			{css: "#input-for-name"},
			{css: "input[placeholder*='Name']"},
		},
		joinButtons: []target{
			{css: "button.preview-join-button"},
			{css: "button", text: "^Join$"},
		},
		leaveSelectors: []string{
			"button.footer__leave-btn",
			"button[aria-label*='Leave']",
		},
		removedTexts: []string{
			"You have been removed",
			"This meeting has been ended by host",
		},
		speakersScript:     zoomSpeakersJS,
		participantsScript: zoomParticipantsJS,
	},
}

func flowFor(p constant.Platform) (flow, bool) {
	f, ok := flows[p]
	return f, ok
}
