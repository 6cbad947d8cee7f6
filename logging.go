package amar

import (
	"io"

	"github.com/charmbracelet/log"
)

// discardLogger backs every logging call when a caller constructs a Writer,
// Reader, or EventReader with a nil logger, so the hot paths never need a
// nil check beyond the one in log().
var discardLogger = log.New(io.Discard)
