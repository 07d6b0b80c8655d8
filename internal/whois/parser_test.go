package whois

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const verisignSample = `   Domain Name: EXAMPLE.COM
   Registry Domain ID: 2336799_DOMAIN_COM-VRSN
   Registrar WHOIS Server: whois.iana.org
   Updated Date: 2024-08-14T07:01:34Z
   Creation Date: 1995-08-14T04:00:00Z
   Registry Expiry Date: 2025-08-13T04:00:00Z
   Registrar: RESERVED-Internet Assigned Numbers Authority
   Registrar IANA ID: 376
   Domain Status: clientDeleteProhibited https://icann.org/epp#clientDeleteProhibited
   Domain Status: clientTransferProhibited https://icann.org/epp#clientTransferProhibited
   Name Server: A.IANA-SERVERS.NET
   Name Server: B.IANA-SERVERS.NET
   DNSSEC: signedDelegation
>>> Last update of whois database: 2024-10-01T12:00:00Z <<<

% NOTICE: this is a comment
registrar_registration_expiration_date: 2030-01-01T00:00:00Z
Registrant Name: Jane Doe
Registrant Email: jane@example.com
Admin Email: admin@example.com
Tech Organization: Example Ops
`

func TestParse_RegistryResponse(t *testing.T) {
	rec := Parse(verisignSample)

	assert.Equal(t, "EXAMPLE.COM", rec.Fields["domain_name"])
	assert.Equal(t, "whois.iana.org", rec.Fields["registrar_whois_server"])
	assert.Equal(t, "376", rec.Fields["registrar_iana_id"])
	assert.Equal(t, "RESERVED-Internet Assigned Numbers Authority", rec.Registrar["Name"])
	assert.Equal(t, []string{"a.iana-servers.net", "b.iana-servers.net"}, rec.NameServers)

	// first occurrence wins
	assert.Equal(t, "clientDeleteProhibited https://icann.org/epp#clientDeleteProhibited", rec.Fields["domain_status"])

	assert.Equal(t, "Jane Doe", rec.Registrant["Name"])
	assert.Equal(t, "jane@example.com", rec.Registrant["Email"])
	assert.Equal(t, "admin@example.com", rec.Admin["Email"])
	assert.Equal(t, "Example Ops", rec.Tech["Organization"])

	_, commented := rec.Fields["notice"]
	assert.False(t, commented)
}

func TestParse_Dates(t *testing.T) {
	rec := Parse(verisignSample)

	exp, ok := rec.ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 8, 13, 4, 0, 0, 0, time.UTC), exp)

	created, ok := rec.CreatedAt()
	require.True(t, ok)
	assert.Equal(t, 1995, created.Year())

	updated, ok := rec.UpdatedAt()
	require.True(t, ok)
	assert.Equal(t, time.August, updated.Month())
}

func TestParse_SnakeCaseKeysNormalized(t *testing.T) {
	rec := Parse("registry_expiry_date: 2026-02-03\nname_server: NS1.EXAMPLE.NET.\n")

	assert.Equal(t, "2026-02-03", rec.Field("Registry Expiry Date"))
	assert.Equal(t, []string{"ns1.example.net"}, rec.NameServers)
}

func TestParse_RegistrarInlineFields(t *testing.T) {
	rec := Parse("Registrar: Name: Acme Registrar, URL: https://acme.example, Phone: +1.555")

	assert.Equal(t, "Acme Registrar", rec.Registrar["Name"])
	assert.Equal(t, "https://acme.example", rec.Registrar["URL"])
	assert.Equal(t, "+1.555", rec.Registrar["Phone"])
}

func TestParse_IndentedContactBlockAndNameServerList(t *testing.T) {
	raw := "Registrant:\n" +
		"    Name: John Smith\n" +
		"    Street: 1 Main St\n" +
		"    Springfield\n" +
		"Name servers:\n" +
		"    ns1.host.example\n" +
		"    ns2.host.example  192.0.2.1\n" +
		"Expiry date: 12-Mar-2027\n"

	rec := Parse(raw)

	assert.Equal(t, "John Smith", rec.Registrant["Name"])
	assert.Equal(t, "1 Main St Springfield", rec.Registrant["Street"])
	assert.Equal(t, []string{"ns1.host.example", "ns2.host.example"}, rec.NameServers)

	exp, ok := rec.ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, time.Date(2027, 3, 12, 0, 0, 0, 0, time.UTC), exp)
}

func TestParse_ContinuationLine(t *testing.T) {
	rec := Parse("Remarks: first part\nsecond part\n")
	assert.Equal(t, "first part second part", rec.Fields["remarks"])
}

func TestParse_Empty(t *testing.T) {
	rec := Parse("")
	assert.Empty(t, rec.Fields)
	assert.Empty(t, rec.NameServers)
	_, ok := rec.ExpiresAt()
	assert.False(t, ok)
}

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"registrar_registration_expiration_date": "Registrar Registration Expiration Date",
		"Registry  expiry Date":                  "Registry Expiry Date",
		"paid-till":                              "Paid-Till",
		"DNSSEC":                                 "DNSSEC",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeKey(in), in)
	}
}

func TestRecord_FlatJSONShape(t *testing.T) {
	rec := Parse(verisignSample)

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var flat map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "EXAMPLE.COM", flat["domain_name"])
	assert.Contains(t, flat, "Registrar")
	assert.Contains(t, flat, "registrant")
	assert.Contains(t, flat, "name_server")

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rec.NameServers, back.NameServers)
	assert.Equal(t, rec.Registrant, back.Registrant)
	assert.Equal(t, rec.Fields["registry_expiry_date"], back.Fields["registry_expiry_date"])
}
