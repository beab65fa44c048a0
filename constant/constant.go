package constant

type Platform string

const (
	PlatformTeams      Platform = "teams"
	PlatformZoom       Platform = "zoom"
	PlatformGoogleMeet Platform = "google_meet"
	PlatformUnknown    Platform = "unknown"
)

func (p Platform) String() string {
	return string(p)
}

type Source string

const (
	SourceGmail       Source = "gmail"
	SourceOutlook     Source = "outlook"
	SourceCalendarAPI Source = "calendar_api"
	SourceManual      Source = "manual"
	SourceQueue       Source = "queue"
)

type RecordingState string

const (
	RecordingStateIdle      RecordingState = "idle"
	RecordingStateStarting  RecordingState = "starting"
	RecordingStateRecording RecordingState = "recording"
	RecordingStateStopping  RecordingState = "stopping"
	RecordingStateStopped   RecordingState = "stopped"
	RecordingStateError     RecordingState = "error"
)

type AudioSource string

const (
	AudioSourcePulse  AudioSource = "pulseaudio"
	AudioSourceInPage AudioSource = "in_page"
	AudioSourceNone   AudioSource = "none"
)

type ParticipantEventType string

const (
	ParticipantJoin   ParticipantEventType = "join"
	ParticipantLeave  ParticipantEventType = "leave"
	ParticipantMute   ParticipantEventType = "mute"
	ParticipantUnmute ParticipantEventType = "unmute"
)

type JobKind string

const (
	JobKindJoin JobKind = "join"
	JobKindEnd  JobKind = "end"
	JobKindPoll JobKind = "poll"
)

type IndexBackend string

const (
	IndexBackendJSON     IndexBackend = "json"
	IndexBackendPostgres IndexBackend = "postgres"
)

const RoutingKeyMeetingExported = "meeting.exported"

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
