package chat

// ChatState is a stage of the chat pipeline
type ChatState string

const (
	StatePending       ChatState = "PENDING"
	StateValidated     ChatState = "VALIDATED"
	StateFileProcessed ChatState = "FILE_PROCESSED"
	StateAnonymised    ChatState = "ANONYMISED"
	StateProcessed     ChatState = "PROCESSED"
	StateDeanonymised  ChatState = "DEANONYMISED"
	StateSuccess       ChatState = "SUCCESS"
	StateFailure       ChatState = "FAILURE"
)

// Terminal reports whether no further transition leaves s
func (s ChatState) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

// Event drives a transition between chat states
type Event string

const (
	EventValidateSuccess     Event = "VALIDATE_SUCCESS"
	EventValidateFailure     Event = "VALIDATE_FAILURE"
	EventFilesProcessSuccess Event = "FILES_PROCESS_SUCCESS"
	EventFilesProcessFailure Event = "FILES_PROCESS_FAILURE"
	EventAnonymiseSuccess    Event = "ANONYMISE_SUCCESS"
	EventAnonymiseFailure    Event = "ANONYMISE_FAILURE"
	EventProcessSuccess      Event = "PROCESS_SUCCESS"
	EventProcessFailure      Event = "PROCESS_FAILURE"
	EventDeanonymiseSuccess  Event = "DEANONYMISE_SUCCESS"
	EventDeanonymiseFailure  Event = "DEANONYMISE_FAILURE"
	EventCompleteSuccess     Event = "COMPLETE_SUCCESS"
	EventCompleteFailure     Event = "COMPLETE_FAILURE"
)

// step pairs the success and failure events leaving one non-terminal state
type step struct {
	from    ChatState
	success Event
	failure Event
	to      ChatState
}

// pipeline is the fixed order in which a request moves through the states
var pipeline = []step{
	{StatePending, EventValidateSuccess, EventValidateFailure, StateValidated},
	{StateValidated, EventFilesProcessSuccess, EventFilesProcessFailure, StateFileProcessed},
	{StateFileProcessed, EventAnonymiseSuccess, EventAnonymiseFailure, StateAnonymised},
	{StateAnonymised, EventProcessSuccess, EventProcessFailure, StateProcessed},
	{StateProcessed, EventDeanonymiseSuccess, EventDeanonymiseFailure, StateDeanonymised},
	{StateDeanonymised, EventCompleteSuccess, EventCompleteFailure, StateSuccess},
}
