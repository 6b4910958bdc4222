// Package filename parses Lloyd George record file names. The strict parser
// accepts only the naming convention; the Corrector rebuilds a conforming name
// from a loosely formatted one.
package filename

// InvalidFileNameError reports which correction stage rejected a file name.
type InvalidFileNameError struct {
	Message string
}

func (e *InvalidFileNameError) Error() string { return e.Message }

func invalidFileName(msg string) error {
	return &InvalidFileNameError{Message: msg}
}

// InvalidFilesError rejects a file or a set of files belonging to one
// patient. Message is recorded verbatim in the upload report.
type InvalidFilesError struct {
	Message string
}

func (e *InvalidFilesError) Error() string { return e.Message }

// InvalidFiles builds an InvalidFilesError.
func InvalidFiles(msg string) error {
	return &InvalidFilesError{Message: msg}
}

// MsgNamingConvention is returned for any name outside the convention.
const MsgNamingConvention = "One or more of the files do not match naming convention"
