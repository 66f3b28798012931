package opcua_plugin

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/redpanda-data/benthos/v4/public/service"
)

const DefaultPollInterval = 5 * time.Second

var methodArgumentFields = []*service.ConfigField{
	service.NewIntField("position").
		Description("Position of the argument in the method signature, arguments are passed in ascending order."),
	service.NewStringEnumField("dataType", "device", "value_class").
		Description("`device` converts `value` into the data type the server declares for this argument. `value_class` passes the written value converted to the variable's value class.").
		Default("device"),
	service.NewStringField("value").
		Description("Literal argument value, used with `dataType: device`.").
		Default(""),
}

var variableFields = []*service.ConfigField{
	service.NewIntField("id").
		Description("Unique id of the variable within the device."),
	service.NewStringField("name").
		Description("Name of the variable, set as `opcua_variable` metadata."),
	service.NewIntField("namespaceIndex").
		Description("Namespace index of the node.").
		Default(0),
	service.NewStringField("identifier").
		Description("Identifier of the node. Plain numbers are numeric identifiers, everything else is a string identifier unless it carries an explicit `i=`, `s=`, `g=` or `b=` prefix.").
		Examples("1001", "Line1.Speed", "g=72962b91-fa75-4ae6-8d28-b404dc7daf63"),
	service.NewBoolField("readable").
		Description("Read the variable every cycle.").
		Default(true),
	service.NewBoolField("writable").
		Description("Allow writes through the `opcua_method` processor. The node has to be a method.").
		Default(false),
	service.NewStringField("valueClass").
		Description("Value class of the variable, e.g. FLOAT64, INT16, BOOLEAN. Decides the type written values are converted to.").
		Default("FLOAT64"),
	service.NewStringEnumField("updatePolicy", "always", "on_change", "absolute").
		Description("When a new value is emitted: `always`, `on_change` or `absolute` (numeric change must exceed `deadband`).").
		Default("always").
		Advanced(),
	service.NewFloatField("deadband").
		Description("Threshold for `updatePolicy: absolute`.").
		Default(0.0).
		Advanced(),
	service.NewDurationField("maxAge").
		Description("Emit a value regardless of the update policy once the last emitted one is older than this. 0s disables it.").
		Default("0s").
		Advanced(),
	service.NewObjectListField("methodArguments", methodArgumentFields...).
		Description("Input arguments of a method-backed variable.").
		Default([]any{}).
		Advanced(),
}

// newDeviceConfigSpec returns a fresh spec with the fields shared by every
// component that talks to one device.
func newDeviceConfigSpec() *service.ConfigSpec {
	return service.NewConfigSpec().
		Field(service.NewStringField("deviceName").
			Description("Name of the device, used in logs, metrics and metadata. Defaults to the host.").
			Default("").
			Examples("press-01")).
		Field(service.NewStringField("host").
			Description("Host name or IP address of the OPC UA server.").
			Examples("192.168.1.100", "plc.local")).
		Field(service.NewIntField("port").
			Description("Port of the OPC UA server.").
			Default(4840)).
		Field(service.NewStringField("path").
			Description("Path of the endpoint.").
			Default("/").
			Advanced()).
		Field(service.NewStringField("protocol").
			Description("Transport of the endpoint, the URL becomes `opc.<protocol>://host:port/path`.").
			Default("tcp").
			Advanced()).
		Field(service.NewStringField("username").
			Description("The username for authentication.").
			Default("").
			Advanced()).
		Field(service.NewStringField("password").
			Description("The password for authentication.").
			Default("").
			Secret().
			Advanced()).
		Field(service.NewStringField("securityMode").
			Description("The security mode to use. Options: None, Sign, SignAndEncrypt").
			Default("").
			Examples("", "None", "Sign", "SignAndEncrypt").
			Advanced()).
		Field(service.NewStringField("securityPolicy").
			Description("The security policy to use. Options: None, Basic128Rsa15, Basic256, Basic256Sha256").
			Default("").
			Examples("", "None", "Basic256", "Basic256Sha256").
			Advanced()).
		Field(service.NewStringField("serverCertificateFingerprint").
			Description("The server certificate fingerprint to verify, SHA3-512 hash.").
			Default("").
			Advanced()).
		Field(service.NewBoolField("directConnect").
			Description("Connect to the configured endpoint without endpoint discovery. Requires securityMode and securityPolicy if security is used.").
			Default(false).
			Advanced()).
		Field(service.NewDurationField("timeout").
			Description("Upper bound for establishing a session and for each request.").
			Default("10s").
			Advanced()).
		Field(service.NewIntField("sessionTimeout").
			Description("The duration in milliseconds that a OPC UA session will last. Is used to ensure that older failed sessions will timeout and that we will not get a TooManySession error.").
			Default(10000).
			Advanced()).
		Field(service.NewStringEnumField("sessionMode", SessionModePerCycle, SessionModePersistent).
			Description("`per_cycle` connects, reads and disconnects every cycle. `persistent` keeps the session open and reconnects only after it was lost.").
			Default(SessionModePerCycle)).
		Field(service.NewIntField("dataTypeCacheSize").
			Description("Number of method argument data types remembered between calls.").
			Default(DefaultDataTypeCacheSize).
			Advanced()).
		Field(service.NewObjectListField("variables", variableFields...).
			Description("Variables of the device.")).
		Field(service.NewObjectField("diagnostics",
			service.NewBoolField("enabled").
				Description("Capture the node tree of the server after (re)connecting.").
				Default(true),
			service.NewStringListField("roots").
				Description("Node ids to browse from. Defaults to the Objects folder.").
				Default([]string{}),
			service.NewIntField("maxLength").
				Description("Maximum length of the stored tree.").
				Default(DefaultMaxRemoteObjectsLength),
			service.NewStringField("cache").
				Description("Cache resource the tree is stored in. Without one the tree is logged.").
				Default(""),
		).Advanced())
}

// DeviceConfig is the parsed device configuration.
type DeviceConfig struct {
	SessionMode   string
	CacheResource string
	Deps          HandlerDeps
}

// ParseDeviceConfig parses the fields of newDeviceConfigSpec.
func ParseDeviceConfig(conf *service.ParsedConfig) (*DeviceConfig, error) {
	cfg := &DeviceConfig{}
	deps := &cfg.Deps
	ep := &deps.Endpoint

	var err error
	if deps.Device, err = conf.FieldString("deviceName"); err != nil {
		return nil, err
	}
	if ep.Host, err = conf.FieldString("host"); err != nil {
		return nil, err
	}
	if ep.Port, err = conf.FieldInt("port"); err != nil {
		return nil, err
	}
	if ep.Path, err = conf.FieldString("path"); err != nil {
		return nil, err
	}
	if ep.Scheme, err = conf.FieldString("protocol"); err != nil {
		return nil, err
	}
	if ep.Username, err = conf.FieldString("username"); err != nil {
		return nil, err
	}
	if ep.Password, err = conf.FieldString("password"); err != nil {
		return nil, err
	}
	if ep.SecurityMode, err = conf.FieldString("securityMode"); err != nil {
		return nil, err
	}
	if ep.SecurityPolicy, err = conf.FieldString("securityPolicy"); err != nil {
		return nil, err
	}
	if ep.ServerCertificateFingerprint, err = conf.FieldString("serverCertificateFingerprint"); err != nil {
		return nil, err
	}
	if ep.DirectConnect, err = conf.FieldBool("directConnect"); err != nil {
		return nil, err
	}
	if ep.Timeout, err = conf.FieldDuration("timeout"); err != nil {
		return nil, err
	}
	sessionTimeoutMs, err := conf.FieldInt("sessionTimeout")
	if err != nil {
		return nil, err
	}
	ep.SessionTimeout = time.Duration(sessionTimeoutMs) * time.Millisecond

	if cfg.SessionMode, err = conf.FieldString("sessionMode"); err != nil {
		return nil, err
	}
	if deps.DataTypeCacheSize, err = conf.FieldInt("dataTypeCacheSize"); err != nil {
		return nil, err
	}

	if ep.Host == "" {
		return nil, errors.New("host must not be empty")
	}
	if ep.Port <= 0 || ep.Port > 65535 {
		return nil, fmt.Errorf("port %d is out of range", ep.Port)
	}
	if deps.Device == "" {
		deps.Device = ep.Host
	}

	if deps.Diagnostics, cfg.CacheResource, err = parseDiagnostics(conf); err != nil {
		return nil, err
	}

	variableConfs, err := conf.FieldObjectList("variables")
	if err != nil {
		return nil, err
	}
	for i, vc := range variableConfs {
		v, err := parseVariable(vc)
		if err != nil {
			return nil, fmt.Errorf("variables[%d]: %w", i, err)
		}
		deps.Variables = append(deps.Variables, v)
	}

	return cfg, nil
}

func parseDiagnostics(conf *service.ParsedConfig) (DiagnosticsConfig, string, error) {
	diag := DiagnosticsConfig{}
	var err error
	if diag.Enabled, err = conf.FieldBool("diagnostics", "enabled"); err != nil {
		return diag, "", err
	}
	if diag.MaxLength, err = conf.FieldInt("diagnostics", "maxLength"); err != nil {
		return diag, "", err
	}
	roots, err := conf.FieldStringList("diagnostics", "roots")
	if err != nil {
		return diag, "", err
	}
	for _, r := range roots {
		nodeID, err := ua.ParseNodeID(r)
		if err != nil {
			return diag, "", fmt.Errorf("diagnostics root %q: %w", r, err)
		}
		diag.Roots = append(diag.Roots, nodeID)
	}
	cache, err := conf.FieldString("diagnostics", "cache")
	if err != nil {
		return diag, "", err
	}
	return diag, cache, nil
}

func parseVariable(conf *service.ParsedConfig) (*Variable, error) {
	v := &Variable{}
	var err error
	if v.ID, err = conf.FieldInt("id"); err != nil {
		return nil, err
	}
	if v.Name, err = conf.FieldString("name"); err != nil {
		return nil, err
	}
	ns, err := conf.FieldInt("namespaceIndex")
	if err != nil {
		return nil, err
	}
	identifier, err := conf.FieldString("identifier")
	if err != nil {
		return nil, err
	}
	if v.NodeID, err = ParseVariableNodeID(ns, identifier); err != nil {
		return nil, err
	}
	if v.Readable, err = conf.FieldBool("readable"); err != nil {
		return nil, err
	}
	if v.Writable, err = conf.FieldBool("writable"); err != nil {
		return nil, err
	}
	if v.ValueClass, err = conf.FieldString("valueClass"); err != nil {
		return nil, err
	}

	policyName, err := conf.FieldString("updatePolicy")
	if err != nil {
		return nil, err
	}
	deadband, err := conf.FieldFloat("deadband")
	if err != nil {
		return nil, err
	}
	maxAge, err := conf.FieldDuration("maxAge")
	if err != nil {
		return nil, err
	}
	if v.Policy, err = NewUpdatePolicy(policyName, deadband, maxAge); err != nil {
		return nil, err
	}

	argConfs, err := conf.FieldObjectList("methodArguments")
	if err != nil {
		return nil, err
	}
	for _, ac := range argConfs {
		arg := MethodArgument{}
		if arg.Position, err = ac.FieldInt("position"); err != nil {
			return nil, err
		}
		kind, err := ac.FieldString("dataType")
		if err != nil {
			return nil, err
		}
		if kind == "value_class" {
			arg.Kind = ArgumentValueClass
		}
		if arg.Value, err = ac.FieldString("value"); err != nil {
			return nil, err
		}
		v.MethodArguments = append(v.MethodArguments, arg)
	}
	return v, nil
}

// ParseVariableNodeID builds a node id from a namespace index and an
// identifier as configured on a variable.
func ParseVariableNodeID(namespace int, identifier string) (*ua.NodeID, error) {
	if namespace < 0 || namespace > 0xFFFF {
		return nil, fmt.Errorf("namespace index %d is out of range", namespace)
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, errors.New("identifier must not be empty")
	}
	if n, err := strconv.ParseUint(identifier, 10, 32); err == nil {
		return ua.NewNumericNodeID(uint16(namespace), uint32(n)), nil
	}
	for _, prefix := range []string{"i=", "s=", "g=", "b="} {
		if strings.HasPrefix(identifier, prefix) {
			return ua.ParseNodeID(fmt.Sprintf("ns=%d;%s", namespace, identifier))
		}
	}
	return ua.NewStringNodeID(uint16(namespace), identifier), nil
}
