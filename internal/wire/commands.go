package wire

// Builders for each outbound command. Correlation IDs are assigned by the
// transport at send time, not here.

func Prompt(message string, images []ImageAttachment) Command {
	data := map[string]any{"message": message}
	if len(images) > 0 {
		data["images"] = images
	}
	return Command{Type: CmdPrompt, Data: data}
}

func Steer(message string) Command {
	return Command{Type: CmdSteer, Data: map[string]any{"message": message}}
}

func FollowUp(message string) Command {
	return Command{Type: CmdFollowUp, Data: map[string]any{"message": message}}
}

func Abort() Command {
	return Command{Type: CmdAbort}
}

func NewSession() Command {
	return Command{Type: CmdNewSession}
}

func GetState() Command {
	return Command{Type: CmdGetState}
}

func GetMessages() Command {
	return Command{Type: CmdGetMessages}
}

func SetModel(provider, id string) Command {
	return Command{Type: CmdSetModel, Data: map[string]any{"provider": provider, "id": id}}
}

func CycleModel() Command {
	return Command{Type: CmdCycleModel}
}

func GetAvailableModels() Command {
	return Command{Type: CmdGetAvailableModels}
}

func SetThinkingLevel(level string) Command {
	return Command{Type: CmdSetThinkingLevel, Data: map[string]any{"level": level}}
}

func CycleThinkingLevel() Command {
	return Command{Type: CmdCycleThinkingLevel}
}

func SetSteeringMode(mode string) Command {
	return Command{Type: CmdSetSteeringMode, Data: map[string]any{"mode": mode}}
}

func SetFollowUpMode(mode string) Command {
	return Command{Type: CmdSetFollowUpMode, Data: map[string]any{"mode": mode}}
}

func Compact() Command {
	return Command{Type: CmdCompact}
}

func SetAutoCompaction(enabled bool) Command {
	return Command{Type: CmdSetAutoCompaction, Data: map[string]any{"enabled": enabled}}
}

func SetAutoRetry(enabled bool) Command {
	return Command{Type: CmdSetAutoRetry, Data: map[string]any{"enabled": enabled}}
}

func AbortRetry() Command {
	return Command{Type: CmdAbortRetry}
}

func Bash(command string) Command {
	return Command{Type: CmdBash, Data: map[string]any{"command": command}}
}

func AbortBash() Command {
	return Command{Type: CmdAbortBash}
}

func GetSessionStats() Command {
	return Command{Type: CmdGetSessionStats}
}

func ExportHTML(path string) Command {
	return Command{Type: CmdExportHTML, Data: map[string]any{"path": path}}
}

func SwitchSession(path string) Command {
	return Command{Type: CmdSwitchSession, Data: map[string]any{"path": path}}
}

func Fork(entryID string) Command {
	return Command{Type: CmdFork, Data: map[string]any{"entryId": entryID}}
}

func GetForkMessages() Command {
	return Command{Type: CmdGetForkMessages}
}

func GetLastAssistantText() Command {
	return Command{Type: CmdGetLastAssistantText}
}
