package session

// Status is the UI-facing state of a camera session.
type Status string

const (
	// StatusScanning covers both searching for a face and waiting on an
	// in-flight verification; the Processing flag distinguishes the two.
	StatusScanning Status = "scanning"
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
	// StatusCompleted is terminal; only explicit navigation leaves it.
	StatusCompleted Status = "completed"
)

// Messages shown alongside each state. Presentation only; the transitions
// and their timing are the contract.
const (
	msgInitializing = "Initializing face detection..."
	msgSearching    = "Position your face in the frame"
	msgProcessing   = "Face detected! Verifying..."
	msgSuccess      = "Present Marked"
	msgNotMatched   = "Face Not Matched (Absent)"
	msgConnError    = "Connection error. Please try again."
	msgRetry        = "Please try again"
	msgCompleted    = "Attendance Recorded. Check your Email."
)
