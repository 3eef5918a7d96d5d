package extract

import (
	dErrors "warden/pkg/domain-errors"
)

// Extraction failures. The orchestrator degrades both to a per-attachment
// warning.
var (
	ErrUnsupportedType = dErrors.New(dErrors.CodeBadRequest, "unsupported attachment type")
	ErrDecodeFailure   = dErrors.New(dErrors.CodeInvalidInput, "attachment could not be decoded")
)
