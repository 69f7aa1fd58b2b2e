package mailbox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseAttachments(t *testing.T) {
	raw := crlf(`From: ship@vendor.example.com
To: receiving@example.com
Subject: =?UTF-8?B?6YCB6LSn5Y2V?=
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary=XYZ

--XYZ
Content-Type: text/plain; charset=utf-8

Please see the attachments
--XYZ
Content-Type: application/vnd.ms-excel; name="=?UTF-8?B?6YCB6LSn5Y2VLnhscw==?="
Content-Disposition: attachment; filename="=?UTF-8?B?6YCB6LSn5Y2VLnhscw==?="
Content-Transfer-Encoding: base64

UEsteGxzeC1ieXRlcw==
--XYZ
Content-Type: application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
Content-Disposition: attachment; filename*=UTF-8''SHIP-%E6%B1%89%E6%97%97.xlsx

second
--XYZ
Content-Type: application/octet-stream; name="inline.xlsx"

third
--XYZ
Content-Type: image/png
Content-Disposition: inline

png
--XYZ--
`)
	atts, err := ParseAttachments(raw)
	require.Nil(t, err)
	require.Len(t, atts, 3)

	require.Equal(t, "送货单.xls", atts[0].Filename)
	require.Equal(t, "application/vnd.ms-excel", atts[0].ContentType)
	require.Equal(t, "PK-xlsx-bytes", string(atts[0].Data))

	require.Equal(t, "SHIP-汉旗.xlsx", atts[1].Filename)
	require.Equal(t, "second", string(atts[1].Data))

	require.Equal(t, "inline.xlsx", atts[2].Filename)
	require.Equal(t, "application/octet-stream", atts[2].ContentType)
	require.Equal(t, "third", string(atts[2].Data))
}

func TestParseAttachmentsNested(t *testing.T) {
	raw := crlf(`From: ship@vendor.example.com
Subject: nested
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary=outer

--outer
Content-Type: multipart/alternative; boundary=inner

--inner
Content-Type: text/plain

text
--inner
Content-Type: text/html

<p>html</p>
--inner--
--outer
Content-Type: application/vnd.ms-excel
Content-Disposition: attachment; filename="note.xls"

data
--outer--
`)
	atts, err := ParseAttachments(raw)
	require.Nil(t, err)
	require.Len(t, atts, 1)
	require.Equal(t, "note.xls", atts[0].Filename)
	require.Equal(t, "data", string(atts[0].Data))
}

func TestParseAttachmentsPlain(t *testing.T) {
	raw := crlf(`From: ship@vendor.example.com
Subject: no attachments
Content-Type: text/plain

just text
`)
	atts, err := ParseAttachments(raw)
	require.Nil(t, err)
	require.Empty(t, atts)

	_, err = ParseAttachments([]byte("not a message at all\x00"))
	require.NotNil(t, err)
}
