package helper

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/aether-mitm/aether/httpmsg"
)

// GetProxyConn dials an upstream forwarding proxy and issues a CONNECT
// for address on its behalf, returning the tunnel once established.
func GetProxyConn(ctx context.Context, proxyURL *url.URL, address string) (net.Conn, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", proxyURL.Host)
	if err != nil {
		return nil, err
	}

	connectTarget, err := httpmsg.ParseAuthorityForm(address)
	if err != nil {
		conn.Close()
		return nil, err
	}
	req := &httpmsg.Request{
		Method:  "CONNECT",
		Target:  connectTarget,
		Version: httpmsg.HTTP11,
		Header:  httpmsg.NewHeader(),
	}
	req.Header.Add("Host", address)
	if proxyURL.User != nil {
		req.Header.Add("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(proxyURL.User.String())))
	}

	connectCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	type result struct {
		resp *httpmsg.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if _, err := conn.Write(req.Serialize()); err != nil {
			done <- result{err: err}
			return
		}
		resp, err := httpmsg.ParseResponse(bufio.NewReader(conn), httpmsg.DefaultParserOptions)
		done <- result{resp: resp, err: err}
	}()

	select {
	case <-connectCtx.Done():
		conn.Close()
		<-done
		return nil, connectCtx.Err()
	case r := <-done:
		if r.err != nil {
			conn.Close()
			return nil, r.err
		}
		if r.resp.Status != 200 {
			conn.Close()
			if r.resp.Reason == "" {
				return nil, errors.New("upstream proxy CONNECT failed: unknown status")
			}
			return nil, errors.New(r.resp.Reason)
		}
		return conn, nil
	}
}
