package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kayz/dotprompt/internal/adapter"
	"github.com/kayz/dotprompt/internal/audit"
	"github.com/kayz/dotprompt/internal/logger"
	"github.com/kayz/dotprompt/internal/message"
	"github.com/kayz/dotprompt/internal/prompt"
	"github.com/kayz/dotprompt/internal/store"
	"github.com/kayz/dotprompt/internal/store/sqlite"
)

var (
	renderVariant      string
	renderVersion      string
	renderInput        string
	renderContext      string
	renderFormat       string
	renderOutputPath   string
	renderConversation string
	renderRecord       bool
)

var renderCmd = &cobra.Command{
	Use:   "render <name | file.prompt>",
	Short: "Render a prompt and print its config and messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		src, err := loadSource(ctx, a.store, args[0])
		if err != nil {
			return err
		}

		var data prompt.DataArgument
		if data.Input, err = readValues(renderInput); err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if data.Context, err = readValues(renderContext); err != nil {
			return fmt.Errorf("read context: %w", err)
		}

		var convID int64
		if renderConversation != "" {
			if a.history == nil {
				return fmt.Errorf("--conversation needs the sqlite store")
			}
			key, err := parseConversationKey(renderConversation)
			if err != nil {
				return err
			}
			if convID, err = a.history.Conversation(ctx, key); err != nil {
				return err
			}
			if data.Messages, err = a.history.History(ctx, convID, cfg.History.Limit); err != nil {
				return err
			}
		}

		out, renderErr := a.renderer.Render(ctx, src.Source, data, nil)
		if err := a.audit.Write(audit.NewRecord(src.Name, src.Variant, src.Version, data, out, renderErr)); err != nil {
			logger.Warn("audit write failed: %v", err)
		}
		if renderErr != nil {
			return renderErr
		}

		if renderRecord && convID != 0 {
			if err := a.history.AppendMessages(ctx, convID, newMessages(out.Messages)...); err != nil {
				return fmt.Errorf("record conversation: %w", err)
			}
		}

		w := cmd.OutOrStdout()
		if renderOutputPath != "" {
			f, err := os.Create(renderOutputPath)
			if err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			defer f.Close()
			w = f
		}
		return writeRendered(w, out, renderFormat)
	},
}

// loadSource reads a prompt file when arg names one, else loads arg from the
// store.
func loadSource(ctx context.Context, st store.Store, arg string) (store.PromptData, error) {
	if strings.HasSuffix(arg, ".prompt") {
		if b, err := os.ReadFile(arg); err == nil {
			return store.PromptData{PromptRef: store.PromptRef{Name: arg, Version: store.Version(string(b))}, Source: string(b)}, nil
		}
	}
	return st.Load(ctx, arg, store.LoadOptions{Variant: renderVariant, Version: renderVersion})
}

// readValues decodes a YAML or JSON object given inline or as @path.
func readValues(arg string) (map[string]any, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, nil
	}
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = b
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseConversationKey parses "platform:channel:user".
func parseConversationKey(s string) (sqlite.ConversationKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return sqlite.ConversationKey{}, fmt.Errorf("conversation must be platform:channel:user, got %q", s)
	}
	return sqlite.ConversationKey{Platform: parts[0], ChannelID: parts[1], UserID: parts[2]}, nil
}

// newMessages drops system turns and spliced-in history.
func newMessages(msgs []message.Message) []message.Message {
	var out []message.Message
	for _, m := range msgs {
		if m.Role == message.RoleSystem || m.Metadata[message.MetadataPurpose] == message.PurposeHistory {
			continue
		}
		out = append(out, m)
	}
	return out
}

func writeRendered(w io.Writer, out *prompt.RenderedPrompt, format string) error {
	var v any
	switch format {
	case "", "json":
		v = out
	case "text":
		for _, m := range out.Messages {
			if _, err := fmt.Fprintf(w, "[%s]\n%s\n\n", m.Role, m.Text()); err != nil {
				return err
			}
		}
		return nil
	case "openai":
		req, err := adapter.OpenAI(out)
		if err != nil {
			return err
		}
		v = req
	case "anthropic":
		req, err := adapter.Anthropic(out)
		if err != nil {
			return err
		}
		v = req
	case "gemini":
		contents, gen, err := adapter.Gemini(out)
		if err != nil {
			return err
		}
		v = map[string]any{"contents": contents, "config": gen}
	default:
		return fmt.Errorf("unknown format %q (want json, text, openai, anthropic or gemini)", format)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	renderCmd.Flags().StringVar(&renderVariant, "variant", "", "Prompt variant")
	renderCmd.Flags().StringVar(&renderVersion, "version", "", "Require this prompt version")
	renderCmd.Flags().StringVar(&renderInput, "input", "", "Input as JSON/YAML, or @file")
	renderCmd.Flags().StringVar(&renderContext, "context", "", "Context (@-variables) as JSON/YAML, or @file")
	renderCmd.Flags().StringVar(&renderFormat, "format", "json", "Output format: json, text, openai, anthropic, gemini")
	renderCmd.Flags().StringVar(&renderOutputPath, "output", "", "Write output to file (default: stdout)")
	renderCmd.Flags().StringVar(&renderConversation, "conversation", "", "Splice history of platform:channel:user (sqlite store)")
	renderCmd.Flags().BoolVar(&renderRecord, "record", false, "Append the rendered turns to the conversation")
	rootCmd.AddCommand(renderCmd)
}
