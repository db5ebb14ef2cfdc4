package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refOf(t *testing.T, srv *httptest.Server) Ref {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return Ref{Host: host, Port: p}
}

const binaryStateResponse = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
 <s:Body>
  <u:GetBinaryStateResponse xmlns:u="urn:Belkin:service:basicevent:1">
   <BinaryState>1</BinaryState>
   <brightness>55</brightness>
  </u:GetBinaryStateResponse>
 </s:Body>
</s:Envelope>`

func TestControlPath(t *testing.T) {
	assert.Equal(t, "/upnp/control/basicevent1", ControlPath(ServiceBasicEvent))
	assert.Equal(t, "/upnp/control/deviceevent1", ControlPath(ServiceDeviceEvent))
	assert.Equal(t, "/upnp/control/bridge1", ControlPath(ServiceBridge))
}

func TestSendCommand(t *testing.T) {
	var gotPath, gotAction, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAction = r.Header.Get("SOAPACTION")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = io.WriteString(w, binaryStateResponse)
	}))
	defer srv.Close()

	c := NewSOAPClient(time.Second, 100)
	defer c.Close()

	resp, err := c.SendCommand(context.Background(), refOf(t, srv), ServiceBasicEvent, "SetBinaryState", Payload{
		"BinaryState": "1",
		"brightness":  "55",
	})
	require.NoError(t, err)

	assert.Equal(t, "/upnp/control/basicevent1", gotPath)
	assert.Equal(t, `"urn:Belkin:service:basicevent:1#SetBinaryState"`, gotAction)
	assert.Contains(t, gotBody, `<u:SetBinaryState xmlns:u="urn:Belkin:service:basicevent:1"><BinaryState>1</BinaryState><brightness>55</brightness></u:SetBinaryState>`)
	assert.Equal(t, Response{"BinaryState": "1", "brightness": "55"}, resp)
}

func TestEnvelopeEscapesArguments(t *testing.T) {
	body := string(Envelope(ServiceDeviceEvent, "SetAttributes", Payload{
		"attributeList": EncodeAttributeList(map[string]string{"FanMode": "2"}),
	}))
	assert.Contains(t, body, "<attributeList>&lt;attribute&gt;&lt;name&gt;FanMode&lt;/name&gt;")

	// the escaped argument decodes back to the same text
	resp, err := DecodeResponse([]byte(body))
	require.NoError(t, err)
	attrs, err := DecodeAttributeList(resp["attributeList"])
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"FanMode": "2"}, attrs)
}

func TestDecodeResponseWithoutBody(t *testing.T) {
	_, err := DecodeResponse([]byte("<html><p>not soap</p></html>"))
	assert.Error(t, err)
}

func TestSendCommandFailures(t *testing.T) {
	t.Run("no service", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		_, err := NewSOAPClient(time.Second, 100).SendCommand(context.Background(), refOf(t, srv), ServiceInsight, "GetInsightParams", nil)
		assert.ErrorIs(t, err, ErrNoService)
	})

	t.Run("invalid action", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "<errorDescription>Invalid Action</errorDescription>")
		}))
		defer srv.Close()

		_, err := NewSOAPClient(time.Second, 100).SendCommand(context.Background(), refOf(t, srv), ServiceBasicEvent, "GetCrockpotState", nil)
		assert.ErrorIs(t, err, ErrNoService)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		_, err := NewSOAPClient(30*time.Millisecond, 100).SendCommand(context.Background(), refOf(t, srv), ServiceBasicEvent, "GetBinaryState", nil)
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		ref := refOf(t, srv)
		srv.Close()

		_, err := NewSOAPClient(time.Second, 100).SendCommand(context.Background(), ref, ServiceBasicEvent, "GetBinaryState", nil)
		assert.ErrorIs(t, err, ErrUnreachable)
	})
}

func TestAttributeList(t *testing.T) {
	encoded := EncodeAttributeList(map[string]string{"FanMode": "3", "DesiredHumidity": "1"})
	assert.Equal(t,
		"<attribute><name>DesiredHumidity</name><value>1</value></attribute><attribute><name>FanMode</name><value>3</value></attribute>",
		encoded)

	decoded, err := DecodeAttributeList("&lt;attribute&gt;&lt;name&gt;CurrentHumidity&lt;/name&gt;&lt;value&gt; 44 &lt;/value&gt;&lt;/attribute&gt;")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"CurrentHumidity": "44"}, decoded)

	_, err = DecodeAttributeList("<attribute><name>broken")
	assert.Error(t, err)
}
