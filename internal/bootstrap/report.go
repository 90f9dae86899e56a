package bootstrap

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const roleLabelPrefix = "node-role.kubernetes.io/"

// report prints the node table and the server version.
func (b *Bootstrapper) report(ctx context.Context, cs kubernetes.Interface) error {
	version, err := cs.Discovery().ServerVersion()
	if err != nil {
		return fmt.Errorf("getting server version: %w", err)
	}
	nodes, err := cs.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("listing nodes: %w", err)
	}

	printNodes(nodes.Items, time.Now(), b.Out)

	status := color.New(color.FgYellow).Sprint("NotReady")
	if len(nodes.Items) > 0 && allReady(nodes.Items) {
		status = color.New(color.FgGreen).Sprint("Ready")
	}
	fmt.Fprintf(b.Out, "\ncontrol plane %s (kubernetes %s)\n", status, version.GitVersion)
	return nil
}

func printNodes(nodes []corev1.Node, now time.Time, w io.Writer) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	tr := tabwriter.NewWriter(w, 6, 6, 4, ' ', 0)
	fmt.Fprintf(tr, "NAME\tSTATUS\tROLES\tAGE\tVERSION\n")
	for i := range nodes {
		n := &nodes[i]
		status := "NotReady"
		if isNodeReady(n) {
			status = "Ready"
		}
		fmt.Fprintf(tr, "%s\t%s\t%s\t%s\t%s\n", n.Name, status, nodeRoles(n), durationToString(now.Sub(n.CreationTimestamp.Time)), n.Status.NodeInfo.KubeletVersion)
	}
	tr.Flush()
}

func isNodeReady(node *corev1.Node) bool {
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

func allReady(nodes []corev1.Node) bool {
	for i := range nodes {
		if !isNodeReady(&nodes[i]) {
			return false
		}
	}
	return true
}

func nodeRoles(node *corev1.Node) string {
	var roles []string
	for label := range node.Labels {
		if role, ok := strings.CutPrefix(label, roleLabelPrefix); ok && role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "<none>"
	}
	sort.Strings(roles)
	return strings.Join(roles, ",")
}

func durationToString(d time.Duration) string {
	hr := d.Hours()
	if hr > 24 {
		return fmt.Sprintf("%dd", int(hr/24))
	}
	if hr > 1 {
		return fmt.Sprintf("%dh", int(hr))
	}

	min := d.Minutes()
	if min > 1 {
		return fmt.Sprintf("%dm", int(min))
	}

	return fmt.Sprintf("%ds", int(d.Seconds()))
}
