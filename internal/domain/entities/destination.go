package entities

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDestination is returned when a destination code or name is out of range
var ErrInvalidDestination = errors.New("invalid destination")

// Destination identifies the channel or factor a binding or reset operation targets
type Destination int

const (
	DestinationNone  Destination = 0
	DestinationEmail Destination = 1
	DestinationPhone Destination = 2
	DestinationChat  Destination = 3
	DestinationOTP   Destination = 4
)

var destinationNames = map[Destination]string{
	DestinationNone:  "none",
	DestinationEmail: "email",
	DestinationPhone: "phone",
	DestinationChat:  "chat",
	DestinationOTP:   "otp",
}

// ParseDestination converts a stored integer code into a Destination
func ParseDestination(code int64) (Destination, error) {
	d := Destination(code)
	if _, ok := destinationNames[d]; !ok {
		return DestinationNone, fmt.Errorf("%w: %d", ErrInvalidDestination, code)
	}
	return d, nil
}

// ParseDestinationName converts a form or CLI value ("chat", "otp", ...) into a Destination.
// "none" is not accepted since nothing can be chosen as none.
func ParseDestinationName(name string) (Destination, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d, n := range destinationNames {
		if n == name && d != DestinationNone {
			return d, nil
		}
	}
	return DestinationNone, fmt.Errorf("%w: %q", ErrInvalidDestination, name)
}

func (d Destination) String() string {
	if name, ok := destinationNames[d]; ok {
		return name
	}
	return fmt.Sprintf("destination(%d)", int(d))
}

// IsValid reports whether d is one of the known destinations
func (d Destination) IsValid() bool {
	_, ok := destinationNames[d]
	return ok
}

// Value implements driver.Valuer
func (d Destination) Value() (driver.Value, error) {
	if !d.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDestination, int(d))
	}
	return int64(d), nil
}

// Scan implements sql.Scanner. Out-of-range codes fail the read.
func (d *Destination) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = DestinationNone
		return nil
	case int64:
		parsed, err := ParseDestination(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case []byte:
		var code int64
		if _, err := fmt.Sscan(string(v), &code); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidDestination, v)
		}
		return d.Scan(code)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidDestination, src)
	}
}
