package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nao1215/reductree/internal/registry"
	"github.com/nao1215/reductree/internal/runner"
	"github.com/nao1215/reductree/internal/tree"
)

// NewTreeCmd creates the tree command group.
func NewTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Create, inspect and edit processing tree files",
		Long: `A processing tree file lists stages by implementation name together with
their parameters and parent links. The format follows the file extension:
.yaml, .yml or .json.`,
	}

	cmd.AddCommand(newTreeNewCmd())
	cmd.AddCommand(newTreeShowCmd())
	cmd.AddCommand(newTreeCheckCmd())
	cmd.AddCommand(newTreeAddCmd())
	cmd.AddCommand(newTreeRemoveCmd())
	cmd.AddCommand(newTreeSetCmd())

	return cmd
}

func newTreeNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new <file> <display name>...",
		Short: "Create a tree file from a chain of stages",
		Long: `New chains the given stages, the first one becoming the root, and writes
the tree file. Node ids are assigned from 0 in argument order.

Examples:
  reductree tree new tree.yaml "Synthetic Ramp" "Scale Values" "Sum"
  reductree tree new tree.yaml "Synthetic Ramp" "Scale Values" \
    --set 0.length=16 --set 1.factor=0.5 --keep 1`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return err
			}
			sets, err := cmd.Flags().GetStringArray("set")
			if err != nil {
				return err
			}
			keep, err := cmd.Flags().GetIntSlice("keep")
			if err != nil {
				return err
			}

			path := args[0]
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("tree file already exists: %s (use -f to overwrite)", path)
				}
			}

			reg := a.newRegistry()
			t := tree.New(reg, tree.WithLogger(a.logger))
			for _, name := range args[1:] {
				s, err := reg.InstantiateByDisplayName(name)
				if err != nil {
					return err
				}
				if _, err := t.CreateAndAddNode(s); err != nil {
					return err
				}
			}
			for _, assignment := range sets {
				id, key, value, err := parseNodeAssignment(assignment)
				if err != nil {
					return err
				}
				if err := t.SetNodeParameter(id, key, value); err != nil {
					return err
				}
			}
			for _, id := range keep {
				if err := t.SetKeepResults(id, true); err != nil {
					return err
				}
			}

			if err := t.Save(path); err != nil {
				return fmt.Errorf("failed to write tree file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created tree file: %s (%d nodes)\n", path, t.Len())
			return nil
		},
	}
	cmd.Flags().StringArrayP("set", "s", nil, "Set a parameter as <node id>.<key>=<value> (repeatable)")
	cmd.Flags().IntSlice("keep", nil, "Keep the results of these inner nodes")
	cmd.Flags().BoolP("force", "f", false, "Overwrite an existing tree file")
	return cmd
}

func newTreeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <file>",
		Short: "Print a tree with its parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			t, err := a.loadTree(a.newRegistry(), args[0])
			if err != nil {
				return err
			}
			digest, err := tree.Digest(t.ExportToListOfNodes())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%d nodes, digest %s)\n", args[0], t.Len(), digest)
			if root, ok := t.RootID(); ok {
				printNode(out, t, root, 0)
			}
			return nil
		},
	}
}

// printNode writes one line per node, children indented below their parent.
func printNode(out io.Writer, t *tree.Tree, id, depth int) {
	n, ok := t.Node(id)
	if !ok {
		return
	}
	desc := n.Stage.Descriptor()

	var params []string
	for _, p := range n.Stage.Params().Export() {
		v := "null"
		if p.Value != nil {
			v = fmt.Sprint(p.Value)
		}
		params = append(params, p.Key+"="+v)
	}

	line := fmt.Sprintf("%s%d %s [%s, %s]", strings.Repeat("  ", depth), id, desc.DisplayName, desc.Kind, desc.ImplementationName)
	if len(params) > 0 {
		line += " " + strings.Join(params, " ")
	}
	if n.KeepResults {
		line += " (keep results)"
	}
	fmt.Fprintln(out, line)

	for _, c := range n.Children {
		printNode(out, t, c, depth+1)
	}
}

func newTreeCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Check dimensions and resolve result shapes",
		Long: `Check verifies that every stage accepts the dimensionality of its parent's
output and prints the result shape of every result-carrying node. Shapes
that depend on the data are resolved by a test run of scan point 0, during
which output stages write nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			t, err := a.loadTree(a.newRegistry(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if _, inconsistent := t.ConsistencyCheck(); len(inconsistent) > 0 {
				for _, id := range inconsistent {
					n, _ := t.Node(id)
					fmt.Fprintf(out, "node %d (%s) does not accept its parent's output\n", id, n.DisplayName())
				}
				return &runner.InconsistentTreeError{Nodes: inconsistent}
			}

			ctx, cancel := a.signalContext()
			defer cancel()
			shapes, err := t.GetAllResultShapes(ctx)
			if err != nil {
				return err
			}
			for _, n := range t.Nodes() {
				if shape, ok := shapes[n.ID]; ok {
					fmt.Fprintf(out, "node %d (%s): %s\n", n.ID, n.DisplayName(), shape)
				}
			}
			fmt.Fprintln(out, "Tree is consistent")
			return nil
		},
	}
}

func newTreeAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <file> <display name>",
		Short: "Attach a stage to a tree",
		Long: `Add attaches a new stage below --parent, or below the last node of the
file when no parent is given, and prints its node id.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			sets, err := cmd.Flags().GetStringArray("set")
			if err != nil {
				return err
			}

			reg := a.newRegistry()
			return editTree(a, reg, args[0], func(t *tree.Tree) error {
				s, err := reg.InstantiateByDisplayName(args[1])
				if err != nil {
					return err
				}
				var opts []tree.AddOption
				if cmd.Flags().Changed("parent") {
					parent, err := cmd.Flags().GetInt("parent")
					if err != nil {
						return err
					}
					opts = append(opts, tree.UnderParent(parent))
				}
				id, err := t.CreateAndAddNode(s, opts...)
				if err != nil {
					return err
				}
				for _, assignment := range sets {
					key, value, err := parseAssignment(assignment)
					if err != nil {
						return err
					}
					if err := t.SetNodeParameter(id, key, value); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added node %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().Int("parent", 0, "Parent node id")
	cmd.Flags().StringArrayP("set", "s", nil, "Set a parameter of the new node as <key>=<value> (repeatable)")
	return cmd
}

func newTreeRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <file> <node id>",
		Short: "Remove a node and everything below it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid node id %q: %w", args[1], err)
			}

			return editTree(a, a.newRegistry(), args[0], func(t *tree.Tree) error {
				removed, err := t.RemoveNode(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed nodes %v\n", removed)
				return nil
			})
		},
	}
}

func newTreeSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <file> <node id> [<key>=<value>...]",
		Short: "Change parameters of a node",
		Long: `Set assigns parameters of one node. Values are parsed as YAML scalars,
so 3 is a number, true a boolean and null clears an optional parameter.

Examples:
  reductree tree set tree.yaml 1 factor=2.5
  reductree tree set tree.yaml 1 --keep=false`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid node id %q: %w", args[1], err)
			}

			return editTree(a, a.newRegistry(), args[0], func(t *tree.Tree) error {
				for _, assignment := range args[2:] {
					key, value, err := parseAssignment(assignment)
					if err != nil {
						return err
					}
					if err := t.SetNodeParameter(id, key, value); err != nil {
						return err
					}
				}
				if cmd.Flags().Changed("keep") {
					keep, err := cmd.Flags().GetBool("keep")
					if err != nil {
						return err
					}
					if err := t.SetKeepResults(id, keep); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("keep", false, "Keep the results of this inner node")
	return cmd
}

// editTree loads a tree file, applies edit and writes the file back.
func editTree(a *app, reg *registry.Registry, path string, edit func(*tree.Tree) error) error {
	t, err := a.loadTree(reg, path)
	if err != nil {
		return err
	}
	if err := edit(t); err != nil {
		return err
	}
	if err := t.Save(path); err != nil {
		return fmt.Errorf("failed to write tree file: %w", err)
	}
	return nil
}

// parseNodeAssignment splits "<node id>.<key>=<value>".
func parseNodeAssignment(s string) (int, string, any, error) {
	target, _, _ := strings.Cut(s, "=")
	idText, _, ok := strings.Cut(target, ".")
	if !ok {
		return 0, "", nil, fmt.Errorf("invalid assignment %q: want <node id>.<key>=<value>", s)
	}
	id, err := strconv.Atoi(idText)
	if err != nil {
		return 0, "", nil, fmt.Errorf("invalid node id in %q: %w", s, err)
	}
	key, value, err := parseAssignment(s[len(idText)+1:])
	if err != nil {
		return 0, "", nil, err
	}
	return id, key, value, nil
}

// parseAssignment splits "<key>=<value>" and decodes the value as YAML, so
// "3" is a number and "[1, 2]" a list.
func parseAssignment(s string) (string, any, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid assignment %q: want <key>=<value>", s)
	}
	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return "", nil, fmt.Errorf("invalid value in %q: %w", s, err)
	}
	return key, value, nil
}
