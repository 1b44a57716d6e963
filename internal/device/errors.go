package device

import "errors"

var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidNetwork is returned for a network other than fcm, apns or wns.
	ErrInvalidNetwork = errors.New("device: invalid network")

	// ErrInvalidRegistration is returned when the registration id is empty.
	ErrInvalidRegistration = errors.New("device: invalid registration id")

	// ErrInvalidDetails is returned when details is not a JSON object.
	ErrInvalidDetails = errors.New("device: details must be a JSON object")
)
