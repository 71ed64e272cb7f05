// utils/http.go
package utils

import (
	"net/http"
	"time"
)

var HTTPClient = &http.Client{
	Timeout: 15 * time.Second, // external place-index lookups must not hang the pipeline
}
