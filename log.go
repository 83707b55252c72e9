package lineup

import (
	"io"
	"log"
)

// Debug is silent unless a service's -debug flag points it at stderr.
var Debug = log.New(io.Discard, "[debug] ", log.Ltime|log.Lshortfile|log.Lmicroseconds)
