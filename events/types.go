package events

// Client event types.
const (
	TypeSessionUpdate            = "session.update"
	TypeInputAudioBufferAppend   = "input_audio_buffer.append"
	TypeInputAudioBufferCommit   = "input_audio_buffer.commit"
	TypeConversationItemCreate   = "conversation.item.create"
	TypeConversationItemTruncate = "conversation.item.truncate"
	TypeConversationItemDelete   = "conversation.item.delete"
	TypeResponseCreate           = "response.create"
	TypeResponseCancel           = "response.cancel"
	TypeConcurrentAgentAdd       = "conversation.concurrent_agent.add"
)

// Server event types.
const (
	TypeError          = "error"
	TypeSessionCreated = "session.created"
	TypeSessionUpdated = "session.updated"

	TypeConversationItemCreated            = "conversation.item.created"
	TypeConversationItemTruncated          = "conversation.item.truncated"
	TypeConversationItemDeleted            = "conversation.item.deleted"
	TypeInputAudioTranscriptionCompleted   = "conversation.item.input_audio_transcription.completed"
	TypeInputAudioBufferSpeechStarted      = "input_audio_buffer.speech_started"
	TypeInputAudioBufferSpeechStopped      = "input_audio_buffer.speech_stopped"
	TypeResponseCreated                    = "response.created"
	TypeResponseDone                       = "response.done"
	TypeResponseOutputItemAdded            = "response.output_item.added"
	TypeResponseOutputItemDone             = "response.output_item.done"
	TypeResponseContentPartAdded           = "response.content_part.added"
	TypeResponseAudioTranscriptDelta       = "response.audio_transcript.delta"
	TypeResponseAudioDelta                 = "response.audio.delta"
	TypeResponseTextDelta                  = "response.text.delta"
	TypeResponseFunctionCallArgumentsDelta = "response.function_call_arguments.delta"
)

type AudioFormat string

const (
	AudioFormatPCM16    AudioFormat = "pcm16"
	AudioFormatG711ULaw AudioFormat = "g711_ulaw"
	AudioFormatG711ALaw AudioFormat = "g711_alaw"
)

const (
	VoiceAlloy   = "alloy"
	VoiceAsh     = "ash"
	VoiceBallad  = "ballad"
	VoiceCoral   = "coral"
	VoiceEcho    = "echo"
	VoiceSage    = "sage"
	VoiceShimmer = "shimmer"
	VoiceVerse   = "verse"
)

const (
	ModalityText  = "text"
	ModalityAudio = "audio"
)
