// internal/scope/screenshot.go
package scope

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/image/bmp"

	"scope-service/internal/scpi"
)

// Screenshot is a bitmap of the instrument display
type Screenshot struct {
	Data   []byte `json:"-"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

var screenshotCommand = scpi.Cmd(":DISP:DATA?")

// ReadScreenshot requests the display bitmap and checks it decodes
func ReadScreenshot(ctx context.Context, session *scpi.Session) (*Screenshot, error) {
	data, err := session.QueryBlock(ctx, screenshotCommand)
	if err != nil {
		return nil, scpi.At(err, "screenshot")
	}

	if len(data) < 2 || data[0] != 'B' || data[1] != 'M' {
		preview := data
		if len(preview) > 16 {
			preview = preview[:16]
		}
		return nil, scpi.ProtocolError(screenshotCommand, fmt.Sprintf("%q", preview),
			"Received data is not a bitmap.")
	}

	cfg, err := bmp.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &scpi.Error{
			Kind:    scpi.KindProtocol,
			Message: "Received an invalid bitmap.",
			Command: screenshotCommand.String(),
			Err:     err,
		}
	}

	return &Screenshot{Data: data, Width: cfg.Width, Height: cfg.Height}, nil
}
