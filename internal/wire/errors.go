package wire

import "errors"

var (
	// ErrMessageTooShort is returned when a message is too small to hold
	// the section it is being parsed as.
	ErrMessageTooShort = errors.New("wire: message too short")

	// ErrInvalidOffset is returned when a compression pointer targets a
	// location outside the message, or forward of the name it's used in.
	ErrInvalidOffset = errors.New("wire: invalid compression pointer offset")

	// ErrCompressionBomb is returned when name decompression would loop or
	// exceeds the maximum pointer chain length (CVE-2024-8508 mitigation).
	ErrCompressionBomb = errors.New("wire: compression pointer loop or depth exceeded")

	// ErrRRsetTooLarge is returned when a single section's decoded size
	// exceeds the configured limit.
	ErrRRsetTooLarge = errors.New("wire: rrset too large")

	// ErrTooManyRRs is returned when a section's declared record count
	// exceeds the configured limit.
	ErrTooManyRRs = errors.New("wire: too many resource records")

	// ErrLabelTooLong is returned when a label exceeds 63 octets.
	ErrLabelTooLong = errors.New("wire: label exceeds 63 octets")

	// ErrNameTooLong is returned when an assembled name exceeds 255 octets.
	ErrNameTooLong = errors.New("wire: name exceeds 255 octets")

	// ErrFormat covers RDATA that doesn't match its declared type or length.
	ErrFormat = errors.New("wire: malformed rdata")
)
