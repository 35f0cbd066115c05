package swpll

/*------------------------------------------------------------------
 *
 * Purpose:   	Serial port to a board running the firmware test app.
 *
 *---------------------------------------------------------------*/

import (
	"github.com/pkg/errors"
	"github.com/pkg/term"
)

/*-------------------------------------------------------------------
 *
 * Name:	openSerialPort
 *
 * Purpose:	Open serial port in raw mode.
 *
 * Inputs:	devicename	- Usually like /dev/ttyUSB0 or /dev/ttyACM0.
 *
 *		baud		- Speed.  9600, 115200 bps, etc.
 *				  If 0, leave it alone.
 *
 *---------------------------------------------------------------*/

func openSerialPort(devicename string, baud int) (*term.Term, error) {
	var fd, err = term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open serial port %s", devicename)
	}

	switch baud {
	case 0: /* Leave it alone. */
	case 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600:
		if err := fd.SetSpeed(baud); err != nil {
			fd.Close()
			return nil, errors.Wrapf(err, "serial port %s speed %d", devicename, baud)
		}
	default:
		fd.Close()
		return nil, errors.Errorf("serial port %s: unsupported speed %d", devicename, baud)
	}

	return fd, nil
}
