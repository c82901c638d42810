package cli

import (
	"fmt"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/arnavsurve/stepwright/pkg/engine"
	"github.com/arnavsurve/stepwright/pkg/log"
	"github.com/arnavsurve/stepwright/pkg/log/sinks"
	"github.com/arnavsurve/stepwright/pkg/types"
	"github.com/rs/zerolog"
)

type LintCmd struct {
	Automation string `help:"Automation file to validate." required:"" type:"existingfile"`
	Inputs     string `help:"Inputs file to check against the automation's parameters." type:"existingfile"`
}

func (l *LintCmd) Run() error {
	logRouter := log.NewRouter(sinks.NewConsoleSink(types.InfoLevel))
	baseZerologInstance := zerolog.New(logRouter).With().Timestamp().Logger()
	cmdLogger := log.NewZerologAdapter(baseZerologInstance)

	return lint(cmdLogger, l.Automation, l.Inputs)
}

func lint(logger types.Logger, automationPath, inputsPath string) error {
	logger.Info().Msgf("Validating %s", automationPath)

	a, err := automation.LoadAutomationFromFile(automationPath)
	if err != nil {
		logger.Error().Err(err).Msgf("Failed to load automation file %s", automationPath)
		return fmt.Errorf("loading automation file %q: %w", automationPath, err)
	}
	logger.Info().
		Int("nodes", len(a.Nodes)).
		Int("actions", automation.CountActions(a.Nodes)).
		Msgf("Automation %q is valid", a.Name)

	if inputsPath == "" {
		return nil
	}
	inputs, err := engine.LoadInputsFromFile(inputsPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load inputs file")
		return err
	}
	if err := automation.ValidateBindings(a, inputs.InputParameters, inputs.SecureParameters); err != nil {
		logger.Error().Err(err).Msg("Inputs do not match the automation parameters")
		return fmt.Errorf("validating inputs %q: %w", inputsPath, err)
	}
	logger.Info().Msg("Inputs match the automation parameters ✅")
	return nil
}
