package notify

import (
	"bytes"
	"html/template"
)

var (
	welcomeTmpl   = template.Must(template.New("welcome").Parse(`<p>Welcome {{.}}!</p>`))
	nonActiveTmpl = template.Must(template.New("non-active").Parse(`<p>Hi {{.}}! It's time to get some new books.</p>`))
	activeTmpl    = template.Must(template.New("active").Parse(`<p>Hi {{.}}! Check out our new books.</p>`))
)

// 模板名（用于指标标签）
const (
	TemplateWelcome   = "welcome"
	TemplateNonActive = "non_active"
	TemplateActive    = "active"
)

func render(t *template.Template, fullName string) string {
	var buf bytes.Buffer
	// 模板只引用一个字符串字段，执行不会失败
	_ = t.Execute(&buf, fullName)
	return buf.String()
}

// Welcome 注册欢迎邮件
func Welcome(to, fullName string) Message {
	return Message{To: to, Subject: "Welcome to BookWise", HTML: render(welcomeTmpl, fullName)}
}

// NonActive 召回邮件
func NonActive(to, fullName string) Message {
	return Message{To: to, Subject: "Long Time No See On BookWise", HTML: render(nonActiveTmpl, fullName)}
}

// Active 活跃用户鼓励邮件
func Active(to, fullName string) Message {
	return Message{To: to, Subject: "Well done!", HTML: render(activeTmpl, fullName)}
}
