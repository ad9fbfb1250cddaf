package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var errNoPhone = errors.New("tenant has no phone number")

// SMSGateway delivers a text message to a phone number.
type SMSGateway interface {
	Send(ctx context.Context, phone, body string) error
}

// httpGateway posts {"to","body"} as JSON to an SMS provider endpoint.
type httpGateway struct {
	url    string
	client *http.Client
}

func newHTTPGateway(url string) *httpGateway {
	return &httpGateway{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (g *httpGateway) Send(ctx context.Context, phone, body string) error {
	payload, err := json.Marshal(map[string]string{"to": phone, "body": body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "sms gateway")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

// logGateway only logs messages; used when no gateway URL is configured.
type logGateway struct{}

func (logGateway) Send(_ context.Context, phone, body string) error {
	logrus.WithFields(logrus.Fields{"to": phone, "chars": len(body)}).Info("sms (not sent, no gateway configured)")
	return nil
}

func newSMSGateway(url string) SMSGateway {
	if url == "" {
		return logGateway{}
	}
	return newHTTPGateway(url)
}

// sendNotice queues a notice for tenant, hands it to gw and records the
// outcome. The stored notice is returned even when delivery failed.
func sendNotice(ctx context.Context, db *DB, gw SMSGateway, tenant *Tenant, body string) (*Notice, error) {
	if tenant.Phone == "" {
		return nil, errNoPhone
	}
	n := Notice{TenantID: tenant.ID, Phone: tenant.Phone, Body: body, Status: "queued"}
	id, err := db.insertNotice(n)
	if err != nil {
		return nil, err
	}
	n.ID = id

	sendErr := gw.Send(ctx, tenant.Phone, body)
	if err := db.markNotice(id, sendErr); err != nil {
		return nil, errors.Wrap(err, "record notice outcome")
	}
	if sendErr != nil {
		n.Status, n.Error = "failed", sendErr.Error()
		logrus.WithError(sendErr).WithField("notice", id).Warn("notice delivery failed")
	} else {
		n.Status, n.SentAt = "sent", now()
	}
	return &n, nil
}
