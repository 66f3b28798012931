package bundle

import (
	_ "github.com/redpanda-data/benthos/v4/public/components/io"
	_ "github.com/redpanda-data/benthos/v4/public/components/pure"

	_ "github.com/united-manufacturing-hub/opcua-daq/opcua_plugin"
)
