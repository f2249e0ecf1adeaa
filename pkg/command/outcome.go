package command

// Outcome is the terminal result of processing one Reference: Success or Failure.
type Outcome interface {
	CommandID() string
	isOutcome()
}

// Success carries the final text of a command.
type Success struct {
	UserID string
	ID     string
	Text   string
}

func (s Success) CommandID() string { return s.ID }
func (Success) isOutcome()          {}

// Failure carries the category and a human-readable reason. ChatID is the
// chat the command came from, empty when the front-end did not report one.
type Failure struct {
	UserID string
	ChatID string
	ID     string
	Kind   ErrorKind
	Reason string
}

func (f Failure) CommandID() string { return f.ID }
func (Failure) isOutcome()          {}

// Fail builds a Failure for ref from err.
func Fail(ref Reference, err error) Failure {
	kind := Classify(err)
	reason := err.Error()
	switch kind {
	case KindAudioNotFound:
		reason = NotFoundReason(ref.ID)
	case KindAudioConversion:
		reason = ConversionReason(err)
	case KindInternal:
		reason = InternalReason(err)
	}

	return Failure{UserID: ref.UserID, ChatID: ref.ChatID, ID: ref.ID, Kind: kind, Reason: reason}
}
