// Package ids provides the opaque identifiers shared by every entity in the
// kernel: the 128-bit Identifier and the AuthToken that names the principal
// an operation is performed on behalf of.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// Identifier is a globally unique, printable, equality-comparable id.
// It is intentionally a thin wrapper over uuid.UUID rather than a bare
// string so that callers cannot accidentally construct one from arbitrary
// text without going through New/Parse.
type Identifier struct {
	u uuid.UUID
}

// Nil is the zero Identifier; it never identifies a real entity.
var Nil = Identifier{}

// New mints a fresh random Identifier.
func New() Identifier {
	return Identifier{u: uuid.New()}
}

// Parse decodes a printed Identifier, returning an error if malformed.
func Parse(s string) (Identifier, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Identifier{}, fmt.Errorf("parse identifier %q: %w", s, err)
	}
	return Identifier{u: u}, nil
}

// MustParse is Parse but panics on error; reserved for constants in tests.
func MustParse(s string) Identifier {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id Identifier) String() string {
	return id.u.String()
}

// IsNil reports whether id is the zero Identifier.
func (id Identifier) IsNil() bool {
	return id == Nil
}

// MarshalText implements encoding.TextMarshaler so Identifier round-trips
// through JSON/YAML as its string form.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("unmarshal identifier %q: %w", b, err)
	}
	id.u = u
	return nil
}

// AuthToken identifies the principal on whose behalf an action is
// performed (§3 of the data model).
type AuthToken struct {
	Name     string `json:"name" yaml:"name"`
	Guid     Identifier `json:"guid" yaml:"guid"`
	OidcSub  string `json:"oidc_sub,omitempty" yaml:"oidc_sub,omitempty"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
}

func (t AuthToken) String() string {
	if t.Email != "" {
		return fmt.Sprintf("%s <%s>", t.Name, t.Email)
	}
	return t.Name
}
