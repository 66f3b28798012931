package opcua_plugin

import (
	"context"
	"fmt"

	"github.com/redpanda-data/benthos/v4/public/service"
)

func opcuaMethodConfig() *service.ConfigSpec {
	return newDeviceConfigSpec().
		Summary("Writes to OPC UA variables by calling their method").
		Description("Writes the message payload to a writable, method-backed variable. The method is called with the configured arguments; its first output argument, or the written value if it has none, is emitted as a message like the ones of `opcua_poll`.").
		Field(service.NewInterpolatedStringField("variable").
			Description("Name of the variable to write.").
			Default(`${! meta("opcua_variable") }`))
}

func init() {
	err := service.RegisterProcessor(
		"opcua_method", opcuaMethodConfig(),
		func(conf *service.ParsedConfig, mgr *service.Resources) (service.Processor, error) {
			return newOPCUAMethodProcessor(conf, mgr)
		})
	if err != nil {
		panic(err)
	}
}

// OPCUAMethodProcessor writes message payloads to device variables.
type OPCUAMethodProcessor struct {
	Handler  Handler
	Device   string
	Variable *service.InterpolatedString
	Log      *service.Logger

	byName map[string]*Variable
}

func newOPCUAMethodProcessor(conf *service.ParsedConfig, mgr *service.Resources) (*OPCUAMethodProcessor, error) {
	cfg, err := ParseDeviceConfig(conf)
	if err != nil {
		return nil, err
	}
	variable, err := conf.FieldInterpolatedString("variable")
	if err != nil {
		return nil, err
	}
	handler, err := newHandlerFromConfig(cfg, mgr)
	if err != nil {
		return nil, err
	}
	return NewOPCUAMethodProcessor(handler, cfg.Deps.Device, variable, mgr.Logger()), nil
}

func NewOPCUAMethodProcessor(handler Handler, device string, variable *service.InterpolatedString, log *service.Logger) *OPCUAMethodProcessor {
	byName := map[string]*Variable{}
	for _, v := range handler.Variables() {
		byName[v.Name] = v
	}
	return &OPCUAMethodProcessor{
		Handler:  handler,
		Device:   device,
		Variable: variable,
		Log:      log,
		byName:   byName,
	}
}

func (p *OPCUAMethodProcessor) Process(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	name, err := p.Variable.TryString(msg)
	if err != nil {
		return nil, fmt.Errorf("resolve variable name: %w", err)
	}
	v, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("variable %q on %s: %w", name, p.Device, ErrUnknownVariable)
	}

	payload, err := msg.AsBytes()
	if err != nil {
		return nil, err
	}
	var value any
	if len(payload) > 0 {
		value = string(payload)
	}

	samples, err := p.Handler.Write(ctx, v.ID, value)
	if err != nil {
		return nil, err
	}
	return samplesToBatch(p.Device, samples, p.Log), nil
}

func (p *OPCUAMethodProcessor) Close(ctx context.Context) error {
	return p.Handler.Close(ctx)
}
