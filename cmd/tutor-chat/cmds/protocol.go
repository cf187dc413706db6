package cmds

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/tutorchat/pkg/chatproto"
)

type frameDoc struct {
	Type      string `yaml:"type"`
	Direction string `yaml:"direction"`
	Payload   string `yaml:"payload"`
	Effect    string `yaml:"effect"`
}

func protocolDocs() []frameDoc {
	return []frameDoc{
		{string(chatproto.TypeHistory), "server", `content: [{role, content}, ...]`, "replaces the transcript"},
		{string(chatproto.TypeResponseStream), "server", `response_stream: "<chunk>"`, "appends to the pending tutor turn, opening one if needed"},
		{string(chatproto.TypeFullText), "server", `content: "<text>"`, "replaces the pending turn text and finalizes it"},
		{string(chatproto.TypeControl), "server", `content: "` + chatproto.ControlDone + `"`, "ends typing and streaming"},
		{string(chatproto.TypeError), "server", `content: "<message>"`, "reported to the user, usually followed by a close"},
		{"client_message", "client", `{"client_message": "<text>"}`, "sent for each user line, queued while offline"},
		{string(chatproto.TypeConnect), "local", "none", "connection opened"},
		{string(chatproto.TypeClose), "local", "none", "connection closed for good or by the user"},
	}
}

func newProtocolCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "protocol",
		Short: "Print the chat wire vocabulary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(protocolDocs()); err != nil {
				return errors.Wrap(err, "encode protocol docs")
			}
			return enc.Close()
		},
	}
}
