// Package endpoint parses and validates the host/port pair a session
// connects to.  Raw text from the front end goes through [Parse]; a
// malformed port produces a typed error rather than a crash.
package endpoint

import (
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	ncerr "tcpchat/internal/errors"
)

// validate is shared; building a validator is expensive.
var validate = validator.New()

// Endpoint identifies the remote peer.  Treat it as a value: once a
// connection attempt starts it is never mutated.
type Endpoint struct {
	Host string `validate:"required,max=253"`
	Port int    `validate:"min=1,max=65535"`
}

// Parse trims host and portText and validates them.  Errors are
// *errors.EndpointError and match errors.ErrInvalidEndpoint.
func Parse(host, portText string) (Endpoint, error) {
	host = strings.TrimSpace(host)
	portText = strings.TrimSpace(portText)

	if host == "" {
		return Endpoint{}, &ncerr.EndpointError{
			Field:   "host",
			Message: "required",
			Hint:    "enter a hostname or IP address",
		}
	}
	if portText == "" {
		return Endpoint{}, &ncerr.EndpointError{
			Field:   "port",
			Message: "required",
			Hint:    "enter a port between 1 and 65535",
		}
	}

	port, err := strconv.Atoi(portText)
	if err != nil {
		return Endpoint{}, &ncerr.EndpointError{
			Field:   "port",
			Value:   portText,
			Message: "not a number",
			Hint:    "enter a port between 1 and 65535",
		}
	}

	ep := Endpoint{Host: host, Port: port}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// Validate checks field constraints on an already-built Endpoint.
func (e Endpoint) Validate() error {
	err := validate.Struct(e)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if ncerr.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Field() {
		case "Port":
			return &ncerr.EndpointError{
				Field:   "port",
				Value:   e.Port,
				Message: "out of range 1-65535",
			}
		case "Host":
			ee := &ncerr.EndpointError{Field: "host", Message: "required"}
			if fe.Tag() == "max" {
				ee.Value = e.Host
				ee.Message = "longer than 253 characters"
			}
			return ee
		}
	}
	return &ncerr.EndpointError{Field: "endpoint", Message: err.Error()}
}

// Address returns "host:port", bracketing IPv6 literals.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// PortText is the port as the front end stores and displays it.
func (e Endpoint) PortText() string { return strconv.Itoa(e.Port) }

func (e Endpoint) String() string { return e.Address() }
