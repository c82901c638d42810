package automation

// RewriteStrings applies fn to every string-bearing field of the action's
// payload: commands, prompts, texts, values, filenames, urls, scripts and
// task descriptions. Identifiers such as output variable names are left alone.
func (a *ActionNode) RewriteStrings(fn func(string) string) {
	if ia := a.Interaction; ia != nil {
		rewriteInteraction(ia, fn)
	}
	if as := a.Assertion; as != nil {
		if as.LLM != nil {
			as.LLM.AssertionInstructions = fn(as.LLM.AssertionInstructions)
		}
		if as.NetworkCall != nil {
			rewriteFilter(as.NetworkCall, fn)
		}
		if as.PythonScript != nil {
			as.PythonScript.Script = fn(as.PythonScript.Script)
		}
	}
	if ex := a.Extraction; ex != nil {
		if ex.LLM != nil {
			ex.LLM.ExtractionInstructions = fn(ex.LLM.ExtractionInstructions)
		}
		if ex.NetworkCall != nil {
			rewriteFilter(&ex.NetworkCall.NetworkCallFilter, fn)
		}
		if ex.PythonScript != nil {
			ex.PythonScript.Script = fn(ex.PythonScript.Script)
		}
	}
	if ps := a.PythonScript; ps != nil {
		ps.ExecutionCode = fn(ps.ExecutionCode)
	}
	if tf := a.Fetch2FA; tf != nil {
		tf.Instructions = fn(tf.Instructions)
		if tf.Email != nil {
			tf.Email.ReceiverEmailAddress = fn(tf.Email.ReceiverEmailAddress)
			tf.Email.SenderEmailAddress = fn(tf.Email.SenderEmailAddress)
		}
		if tf.Slack != nil {
			tf.Slack.ChannelName = fn(tf.Slack.ChannelName)
			tf.Slack.SenderName = fn(tf.Slack.SenderName)
		}
	}
}

func rewriteBase(b *BaseAction, fn func(string) string) {
	b.Command = fn(b.Command)
	b.PromptInstructions = fn(b.PromptInstructions)
}

func rewriteFilter(f *NetworkCallFilter, fn func(string) string) {
	f.URLPattern = fn(f.URLPattern)
	for k, v := range f.HeaderFilter {
		f.HeaderFilter[k] = fn(v)
	}
}

func rewriteInteraction(ia *InteractionAction, fn func(string) string) {
	if base := ia.Base(); base != nil {
		rewriteBase(base, fn)
	}
	if c := ia.ClickElement; c != nil {
		c.DownloadFilename = fn(c.DownloadFilename)
	}
	if in := ia.InputText; in != nil {
		in.InputText = fn(in.InputText)
	}
	if s := ia.SelectOption; s != nil {
		for i, v := range s.SelectValues {
			s.SelectValues[i] = fn(v)
		}
		s.DownloadFilename = fn(s.DownloadFilename)
	}
	if u := ia.UploadFile; u != nil {
		u.FilePath = fn(u.FilePath)
	}
	if g := ia.GoToURL; g != nil {
		g.URL = fn(g.URL)
	}
	if ct := ia.CloseTabsUntil; ct != nil {
		ct.MatchingURL = fn(ct.MatchingURL)
	}
	if d := ia.DownloadURLAsPDF; d != nil {
		d.URL = fn(d.URL)
		d.DownloadFilename = fn(d.DownloadFilename)
	}
	if t := ia.AgenticTask; t != nil {
		t.Task = fn(t.Task)
	}
	if t := ia.CloseOverlayPopup; t != nil {
		t.Task = fn(t.Task)
	}
}

// RewriteNodeStrings walks a node tree and applies fn to every action payload
// and every branch condition, recursing into loop bodies and branches.
func RewriteNodeStrings(nodes []Node, fn func(string) string) {
	for _, n := range nodes {
		switch {
		case n.Action != nil:
			n.Action.RewriteStrings(fn)
		case n.ForLoop != nil:
			RewriteNodeStrings(n.ForLoop.Nodes, fn)
			RewriteNodeStrings(n.ForLoop.ResetNodes, fn)
		case n.IfElse != nil:
			n.IfElse.Condition = fn(n.IfElse.Condition)
			RewriteNodeStrings(n.IfElse.IfNodes, fn)
			RewriteNodeStrings(n.IfElse.ElseNodes, fn)
		}
	}
}

// CountActions returns the number of leaf actions in a node list, without
// expanding loops.
func CountActions(nodes []Node) int {
	total := 0
	for _, n := range nodes {
		switch {
		case n.Action != nil:
			total++
		case n.ForLoop != nil:
			total += CountActions(n.ForLoop.Nodes)
		case n.IfElse != nil:
			total += CountActions(n.IfElse.IfNodes) + CountActions(n.IfElse.ElseNodes)
		}
	}
	return total
}
