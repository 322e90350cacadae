package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	breakCmds
	runCmds
	stackCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Running the program", runCmds},
	{"Manipulating breakpoints", breakCmds},
	{"Viewing the call stack", stackCmds},
	{"Other commands", otherCmds},
}
