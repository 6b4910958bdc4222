package validator

import "errors"

// ErrInvalidNHSNumber rejects a value that is not a 10-digit NHS number with
// a valid Modulus 11 check digit.
var ErrInvalidNHSNumber = errors.New("Invalid NHS number")

// ValidateNHSNumber checks the format and the check digit of an NHS number.
func ValidateNHSNumber(nhsNumber string) error {
	if len(nhsNumber) != 10 {
		return ErrInvalidNHSNumber
	}
	sum := 0
	for i := 0; i < 10; i++ {
		c := nhsNumber[i]
		if c < '0' || c > '9' {
			return ErrInvalidNHSNumber
		}
		if i < 9 {
			sum += int(c-'0') * (10 - i)
		}
	}
	check := 11 - sum%11
	switch check {
	case 11:
		check = 0
	case 10:
		return ErrInvalidNHSNumber
	}
	if check != int(nhsNumber[9]-'0') {
		return ErrInvalidNHSNumber
	}
	return nil
}
