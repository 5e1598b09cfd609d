// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

// Issue ids. Zero means no issue.
const (
	ContainerEngineNotFoundId Id = iota + 1
	ContainerNotFoundId
	ShellNotFoundId
	DescriptorCollisionId
	CwdConflictId
	SandboxEscapeUnavailableId
	ConfigLoadFailedId
	LaunchFailedId
)

type (
	//nolint:revive // matches the Id suffix used by every constant
	Id int

	MarkdownMsg string

	HttpLink string

	// Issue is a markdown explanation of a known failure.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

// Render renders the markdown with the given glamour style ("dark", "light",
// "notty", or a path to a JSON style).
func (i *Issue) Render(stylePath string) (string, error) {
	var sb strings.Builder
	sb.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 {
		sb.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			sb.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(sb.String(), stylePath)
}

var (
	render = glamour.Render

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# Container engine not found

Neither ` + "`podman`" + ` nor ` + "`docker`" + ` could be run on the host.

## Things you can try:
- Install podman (recommended) or docker
- Inside Flatpak, make sure the app may talk to ` + "`org.freedesktop.Flatpak`" + `
- Pick the engine explicitly in your config:
~~~cue
container_engine: "docker"
~~~`,
	}

	containerNotFoundIssue = &Issue{
		id: ContainerNotFoundId,
		mdMsg: `
# Container not found

The requested container is not known to any engine.

## Things you can try:
- List available targets:
~~~
$ termlaunch containers
~~~
- Use ` + "`session`" + ` to run on the host instead`,
	}

	shellNotFoundIssue = &Issue{
		id: ShellNotFoundId,
		mdMsg: `
# Shell not found

The shell configured for this profile does not exist in the target.

## Things you can try:
- Remove ` + "`shell`" + ` from the profile to use your login shell
- Check the path against ` + "`/etc/shells`" + ` in the target`,
	}

	descriptorCollisionIssue = &Issue{
		id: DescriptorCollisionId,
		mdMsg: `
# Descriptor collision

Two layers of the launch tried to install a file descriptor into the same
slot of the child. Nothing was started and every descriptor was closed.

## Things you can try:
- Pass extra descriptors to one layer only
- Report a bug if this happened without custom descriptors`,
	}

	cwdConflictIssue = &Issue{
		id: CwdConflictId,
		mdMsg: `
# Working directory conflict

Two layers of the launch asked for different working directories and
neither wraps the other in a way that can carry both.

## Things you can try:
- Set the directory on one layer only (` + "`--cwd`" + ` or ` + "`preserve_directory`" + `)`,
	}

	sandboxEscapeUnavailableIssue = &Issue{
		id: SandboxEscapeUnavailableId,
		mdMsg: `
# Cannot reach the host

termlaunch runs inside a Flatpak sandbox and could not start
` + "`flatpak-spawn --host`" + `.

## Things you can try:
- Grant the app ` + "`--talk-name=org.freedesktop.Flatpak`" + `
- Check that ` + "`flatpak-spawn`" + ` is installed in the runtime`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Configuration could not be loaded

## Things you can try:
- Print the effective configuration:
~~~
$ termlaunch config show
~~~
- Regenerate a default file:
~~~
$ termlaunch config init --force
~~~`,
	}

	launchFailedIssue = &Issue{
		id: LaunchFailedId,
		mdMsg: `
# Launch failed

The command was composed but the operating system refused to start it.

## Things you can try:
- Check that the program exists and is executable
- Re-run with ` + "`--verbose`" + ` to see the final argv
- Use ` + "`termlaunch run --dry-run`" + ` to print it without launching`,
	}

	issues = map[Id]*Issue{
		containerEngineNotFoundIssue.Id():  containerEngineNotFoundIssue,
		containerNotFoundIssue.Id():        containerNotFoundIssue,
		shellNotFoundIssue.Id():            shellNotFoundIssue,
		descriptorCollisionIssue.Id():      descriptorCollisionIssue,
		cwdConflictIssue.Id():              cwdConflictIssue,
		sandboxEscapeUnavailableIssue.Id(): sandboxEscapeUnavailableIssue,
		configLoadFailedIssue.Id():         configLoadFailedIssue,
		launchFailedIssue.Id():             launchFailedIssue,
	}
)

// Values returns every issue ordered by id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

// Get returns the issue for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
