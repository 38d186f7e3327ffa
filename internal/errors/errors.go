// internal/errors/errors.go
package appErrors

import (
    "database/sql/driver"
    "errors"
    "fmt"
    "net"

    "github.com/lib/pq"
)

var (
    // ErrStoreConflict means an optimistic commit lost to a concurrent transition.
    ErrStoreConflict = errors.New("contact state changed concurrently")
    // ErrStoreUnavailable aborts the current tick.
    ErrStoreUnavailable  = errors.New("contact store unavailable")
    ErrDuplicateContact  = errors.New("contact with this email already exists")
    ErrInvalidTransition = errors.New("invalid campaign transition")
    ErrInvalidContact    = errors.New("invalid contact")
    // ErrNotDue means the next drip stage's offset has not elapsed yet.
    ErrNotDue = errors.New("drip stage not due yet")
    // ErrTickInProgress is returned by the runner while another tick holds the lock.
    ErrTickInProgress = errors.New("a tick is already running")
)

// ErrContactNotFound is returned by lookups by id.
type ErrContactNotFound struct {
    ContactID int64
}

func (e *ErrContactNotFound) Error() string {
    return fmt.Sprintf("contact with ID %d not found", e.ContactID)
}

func NewContactNotFound(id int64) error {
    return &ErrContactNotFound{ContactID: id}
}

func IsNotFound(err error) bool {
    var nf *ErrContactNotFound
    return errors.As(err, &nf)
}

// GenerationError wraps a content generator failure (quota, timeout, unparsable output).
type GenerationError struct {
    Stage string
    Err   error
}

func (e *GenerationError) Error() string {
    return fmt.Sprintf("generate %s content: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

type ClassificationError struct {
    Err error
}

func (e *ClassificationError) Error() string {
    return fmt.Sprintf("classify reply: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// SendError wraps a mailer failure. The contact state is untouched when it is returned.
type SendError struct {
    To  string
    Err error
}

func (e *SendError) Error() string {
    return fmt.Sprintf("send email: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// FromStore translates driver errors into the store taxonomy above.
// Connection loss becomes ErrStoreUnavailable and unique violations ErrDuplicateContact.
func FromStore(err error) error {
    if err == nil {
        return nil
    }
    if errors.Is(err, ErrStoreUnavailable) {
        return err
    }
    var pqErr *pq.Error
    if errors.As(err, &pqErr) {
        switch {
        case pqErr.Code == "23505":
            return fmt.Errorf("%w: %s", ErrDuplicateContact, pqErr.Detail)
        case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57":
            return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
        }
        return err
    }
    var netErr net.Error
    if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
        return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
    }
    return err
}

// IsFatalForTick reports whether a tick must stop processing further contacts.
func IsFatalForTick(err error) bool {
    return errors.Is(err, ErrStoreUnavailable)
}
