package ddlconsumer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// a DDL event with a direct ObjectName applies as-is.
func TestExtractEventDDLApply(t *testing.T) {
	payload := `<EVENT_INSTANCE>` +
		`<EventType>ALTER_TABLE</EventType>` +
		`<ObjectName>Users</ObjectName>` +
		`<CommandText>ALTER TABLE [Users] ADD [Email] nvarchar(200) NULL</CommandText>` +
		`</EVENT_INSTANCE>`
	event, err := ExtractEvent(payload)
	assert.NoError(t, err)
	assert.Equal(t, "ALTER_TABLE", event.EventType)
	assert.Equal(t, "Users", event.ObjectName)
	assert.Equal(t, "ALTER TABLE [Users] ADD [Email] nvarchar(200) NULL", event.CommandText)
}

// rename resolution uses TargetObjectName as the effective object.
func TestExtractEventRenameResolution(t *testing.T) {
	payload := `<EVENT_INSTANCE>` +
		`<EventType>RENAME</EventType>` +
		`<ObjectName>OldCol</ObjectName>` +
		`<TargetObjectName>Users</TargetObjectName>` +
		`<CommandText>EXEC sp_rename 'Users.OldCol', 'NewCol', 'COLUMN'</CommandText>` +
		`</EVENT_INSTANCE>`
	event, err := ExtractEvent(payload)
	assert.NoError(t, err)
	assert.Equal(t, "Users", event.ObjectName, "effective object must be TargetObjectName, not ObjectName")
}

func TestExtractEventXMLEntityDecoding(t *testing.T) {
	payload := `<EVENT_INSTANCE>` +
		`<EventType>ALTER_TABLE</EventType>` +
		`<ObjectName>Users</ObjectName>` +
		`<CommandText>ALTER TABLE [Users] ADD CHECK ([Amount] &lt; 100 AND [Name] &lt;&gt; &apos;&amp;&apos;)</CommandText>` +
		`</EVENT_INSTANCE>`
	event, err := ExtractEvent(payload)
	assert.NoError(t, err)
	assert.Equal(t, `ALTER TABLE [Users] ADD CHECK ([Amount] < 100 AND [Name] <> '&')`, event.CommandText)
}

func TestExtractEventMissingElementErrors(t *testing.T) {
	_, err := ExtractEvent(`<EVENT_INSTANCE><EventType>ALTER_TABLE</EventType></EVENT_INSTANCE>`)
	assert.Error(t, err)
}

func TestXMLUnescapeOrderDoesNotDoubleDecode(t *testing.T) {
	// &amp;lt; must decode to the literal text "&lt;", not to "<".
	assert.Equal(t, "&lt;", xmlUnescape("&amp;lt;"))
}
