package types

import (
	"errors"
	"strings"
)

// Kind classifies a failure so callers can react differently to
// "nothing there yet", "wrong master secret" and "crypto failure"
type Kind int

const (
	KindUnknown Kind = iota
	KindMasterSecretUnavailable
	KindPersistence
	KindKeystoreUnlock
	KindCredentialStoreNotFound
	KindAliasNotFound
	KindCrypto
	KindInvalidToken
	KindInvalidArgument
	KindKeystore
)

// Family groups kinds into the two error families that cross the
// subsystem boundary
type Family string

const (
	FamilyKeystore Family = "keystore"
	FamilyCrypto   Family = "crypto"
)

func (k Kind) String() string {
	switch k {
	case KindMasterSecretUnavailable:
		return "master secret unavailable"
	case KindPersistence:
		return "persistence error"
	case KindKeystoreUnlock:
		return "keystore unlock failure"
	case KindCredentialStoreNotFound:
		return "credential store not found"
	case KindAliasNotFound:
		return "alias not found"
	case KindCrypto:
		return "crypto failure"
	case KindInvalidToken:
		return "invalid token"
	case KindInvalidArgument:
		return "invalid argument"
	case KindKeystore:
		return "keystore error"
	default:
		return "unknown error"
	}
}

// Family returns the error family for the kind
func (k Kind) Family() Family {
	switch k {
	case KindCrypto, KindInvalidToken:
		return FamilyCrypto
	default:
		return FamilyKeystore
	}
}

// Error is the error type returned across the subsystem boundary.
// It carries enough context for operator diagnosis and never the secret itself.
type Error struct {
	Kind    Kind
	Op      string
	Cluster string
	Alias   string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Cluster != "" {
		b.WriteString(" [cluster=")
		b.WriteString(e.Cluster)
		if e.Alias != "" {
			b.WriteString(" alias=")
			b.WriteString(e.Alias)
		}
		b.WriteString("]")
	} else if e.Alias != "" {
		b.WriteString(" [alias=")
		b.WriteString(e.Alias)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

var (
	ErrMasterSecretUnavailable = &Error{Kind: KindMasterSecretUnavailable}
	ErrPersistence             = &Error{Kind: KindPersistence}
	ErrKeystoreUnlock          = &Error{Kind: KindKeystoreUnlock}
	ErrCredentialStoreNotFound = &Error{Kind: KindCredentialStoreNotFound}
	ErrAliasNotFound           = &Error{Kind: KindAliasNotFound}
	ErrCrypto                  = &Error{Kind: KindCrypto}
	ErrInvalidToken            = &Error{Kind: KindInvalidToken}
	ErrInvalidArgument         = &Error{Kind: KindInvalidArgument}
	ErrKeystore                = &Error{Kind: KindKeystore}

	// ErrExists marks an attempt to create something that is already present
	ErrExists = errors.New("already exists")
)

// KindOf returns the kind of the outermost *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// WithOp returns err relabelled with op when it is an *Error, keeping its
// kind and context. Other errors are returned unchanged.
func WithOp(err error, op string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	relabelled := *e
	relabelled.Op = op
	return &relabelled
}
