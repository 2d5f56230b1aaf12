package awserrs

import (
	"errors"

	"github.com/aws/aws-sdk-go/aws/awserr"
)

// Outcome is the tri-state result of classifying a provider response:
// success, benign-exists (the resource is already in the desired state),
// or fatal.
type Outcome int

const (
	OK Outcome = iota
	BenignExists
	Fatal
)

// Classify maps an error from a create call to an Outcome. A nil error is
// success, any of the given codes is benign-exists, everything else is fatal.
func Classify(err error, benignCodes ...string) Outcome {
	if err == nil {
		return OK
	}
	if IsCode(err, benignCodes...) {
		return BenignExists
	}
	return Fatal
}

// IsCode reports whether err is an AWS API error carrying one of the given
// error codes.
func IsCode(err error, codes ...string) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	for _, code := range codes {
		if aerr.Code() == code {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is a valid negative probe result rather
// than a query failure. The caller supplies the not-found codes of the
// service being probed.
func IsNotFound(err error, codes ...string) bool {
	return IsCode(err, codes...)
}
