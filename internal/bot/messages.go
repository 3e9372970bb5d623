package bot

// Fixed user-facing messages. The pipeline never exposes raw errors to the
// chat; every failure collapses into one of these.
const (
	msgAck             = "Generating your query with AI, one moment...\nSend your request by text or audio."
	msgCancelled       = "Your latest request was cancelled."
	msgNothingToCancel = "There is no request in progress to cancel."
	msgNoResults       = "No results were found for your query."
	msgNotUnderstood   = "Sorry, I did not understand your request."
	msgQueryFailed     = "Sorry, something went wrong while querying the data."
	msgApology         = "Sorry, something went wrong while processing your message."
)
