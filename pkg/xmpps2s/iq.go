package xmpps2s

import (
	"bytes"
	"encoding/xml"

	"github.com/pkg/errors"

	"github.com/exavolt/xmpp-s2s/pkg/s2sconfig"
	"github.com/exavolt/xmpp-s2s/pkg/xmppcore"
	"github.com/exavolt/xmpp-s2s/pkg/xmppdialback"
	"github.com/exavolt/xmpp-s2s/pkg/xmppdisco"
	"github.com/exavolt/xmpp-s2s/pkg/xmppping"
)

// serverIdentity is what a locally served domain reports in disco#info.
var serverIdentity = xmppdisco.Identity{
	Category: xmppdisco.IdentityCategoryServer,
	Type:     xmppdisco.IdentityTypeIM,
	Name:     "xmpp-s2s",
}

// answerIQ handles the requests addressed to a locally served domain
// itself: ping and service discovery. Any other request gets
// service-unavailable. Responses are left for the caller to deliver.
func answerIQ(iq *xmppcore.IQ, domain *s2sconfig.Domain) (xmppcore.Element, bool, error) {
	if iq.From() == nil {
		return nil, false, nil
	}
	iqType := iq.Type()
	if iqType != xmppcore.IQTypeGet && iqType != xmppcore.IQTypeSet {
		return nil, false, nil
	}
	if iq.ID() == "" {
		reply, err := iq.CreateBounceFromError(xmppcore.NewStanzaException(
			xmppcore.StanzaErrorConditionBadRequest, "iq without id"))
		if err != nil {
			return nil, false, err
		}
		return reply, true, nil
	}
	payload, err := iq.Payload()
	if err != nil {
		return nil, false, err
	}
	child, _ := firstChild(payload)

	var result []byte
	switch {
	case iqType == xmppcore.IQTypeGet && child == xmppping.Name:
	case iqType == xmppcore.IQTypeGet && child == xmppdisco.InfoQueryName:
		features := []string{xmppdisco.InfoNS, xmppdisco.ItemsNS, xmppping.NS}
		if domain.AuthDialback() {
			features = append(features, xmppdialback.FeaturesNS)
		}
		result, err = xml.Marshal(&xmppdisco.InfoIQResult{
			Identity: []xmppdisco.Identity{serverIdentity},
			Feature:  xmppdisco.Features(features...),
		})
	case iqType == xmppcore.IQTypeGet && child == xmppdisco.ItemsQueryName:
		result, err = xml.Marshal(&xmppdisco.ItemsIQResult{})
	default:
		reply, err := iq.CreateBounce(xmppcore.StanzaErrorConditionServiceUnavailable)
		if err != nil {
			return nil, false, err
		}
		return reply, true, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "unable to marshal iq result")
	}
	reply := xmppcore.NewIQ(*iq.To(), *iq.From(), xmppcore.IQTypeResult, iq.ID())
	reply.SetPayload(result)
	return reply, true, nil
}

func firstChild(payload []byte) (xml.Name, bool) {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	for {
		token, err := decoder.Token()
		if err != nil {
			return xml.Name{}, false
		}
		if start, ok := token.(xml.StartElement); ok {
			return start.Name, true
		}
	}
}
