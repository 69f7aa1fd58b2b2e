package deliverynote

import (
	"context"
	"os/exec"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Delivery is what one poll cycle produced for a vendor: the records keyed
// by ISO delivery date, and the JSON files they were written to.
type Delivery struct {
	Vendor  string                      `json:"vendor"`
	Records map[string][]ShipmentRecord `json:"records"`
	Files   []string                    `json:"files"`
}

// Handoff passes emitted deliveries on to the ERP entry automation.
type Handoff interface {
	Deliver(ctx context.Context, d Delivery) error
}

type nopHandoff struct{}

func (nopHandoff) Deliver(context.Context, Delivery) error { return nil }

// commandHandoff runs argv with the delivery's files appended.
type commandHandoff struct {
	argv   []string
	logger *zap.SugaredLogger
}

// NewHandoff returns a Handoff running argv per delivery, or one that does
// nothing when argv is empty.
func NewHandoff(argv []string, logger *zap.SugaredLogger) Handoff {
	if len(argv) == 0 {
		return nopHandoff{}
	}
	return &commandHandoff{argv: argv, logger: logger}
}

func (h *commandHandoff) Deliver(ctx context.Context, d Delivery) error {
	if len(d.Files) == 0 {
		return nil
	}
	argv := append(append([]string{}, h.argv...), d.Files...)
	return runExternalCommand(ctx, h.logger.With("vendor", d.Vendor), argv)
}

func runExternalCommand(ctx context.Context, sugar *zap.SugaredLogger, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	output, err := cmd.CombinedOutput()

	if err != nil {
		sugar.Errorw("Command execution failed",
			"command", argv,
			"error", err,
			"output", string(output))
		return errors.Wrapf(err, "run %s", argv[0])
	}

	sugar.Infow("Command executed successfully",
		"command", argv,
		"output", string(output))
	return nil
}
