package ake

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/quantumcall/ake-bridge/internal/keystore"
	"github.com/quantumcall/ake-bridge/internal/pqcrypto"
	"github.com/quantumcall/ake-bridge/internal/session"
	"github.com/quantumcall/ake-bridge/internal/transcript"
	"github.com/quantumcall/ake-bridge/internal/wire"
)

// RunInitiator drives the joining peer's side of one key-exchange session
// to completion over conn (the TCP dial itself is the caller's
// responsibility, done before conn is handed in). longTerm is the
// initiator's persistent signature keypair, loaded or generated by
// package keystore.
func RunInitiator(conn *wire.Conn, username string, longTerm keystore.KeyPair, log *logrus.Logger) (session.Result, error) {
	if err := validateUsername(username); err != nil {
		return session.Result{}, protocolError("CONNECT", err.Error())
	}

	log.WithField("username", username).Info("Connected")

	kemPair, err := pqcrypto.GenerateKEMKeyPair()
	if err != nil {
		err := cryptoFailure("CONNECT", err)
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}
	defer kemPair.Zero()

	tr := &transcript.Buffer{}
	defer tr.Zero()

	if err := sendHello(conn, tr, username); err != nil {
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}

	if err := awaitResponseAndMaybeSendSigKey(conn, tr, longTerm); err != nil {
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}

	kemPubRaw, err := pqcrypto.MarshalKEMPublicKey(kemPair.Public)
	if err != nil {
		err := cryptoFailure("SIGN_KEM", err)
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}

	if err := signAndSendKEMKey(conn, tr, longTerm, kemPubRaw); err != nil {
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}

	secret, err := awaitSecretAndDecapsulate(conn, tr, kemPair)
	if err != nil {
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}
	defer zeroizeSecret(secret)

	if err := sendHMAC(conn, tr, secret); err != nil {
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}

	if err := checkServerHMAC(conn, tr, secret); err != nil {
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}

	if err := conn.WriteFrame(wire.Frame{Type: wire.TypeHmacVerifySuccess}); err != nil {
		err := ioError("AWAIT_SERVER_HMAC", err)
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}

	master, err := derive(secret)
	if err != nil {
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}

	log.WithField("username", username).Info("Key exchange successful")
	return session.Result{Username: username, MasterKey: master}, nil
}

func sendHello(conn *wire.Conn, tr *transcript.Buffer, username string) error {
	payload := []byte(username)
	if err := conn.WriteFrame(wire.Frame{Type: wire.TypeHello, Payload: payload}); err != nil {
		return ioError("CONNECT", err)
	}
	tr.Append(payload)
	return nil
}

// awaitResponseAndMaybeSendSigKey implements initiator state AWAIT_RESPONSE:
// the responder may ask for the long-term signature public key first
// (first contact) or go straight to KEM-KEY-REQUEST (returning user).
func awaitResponseAndMaybeSendSigKey(conn *wire.Conn, tr *transcript.Buffer, longTerm keystore.KeyPair) error {
	f, err := conn.ReadFrame()
	if err != nil {
		return ioError("AWAIT_RESPONSE", err)
	}

	if f.Type == wire.TypeSigKeyRequest {
		pubRaw, err := pqcrypto.MarshalPublicKey(longTerm.Public)
		if err != nil {
			return cryptoFailure("AWAIT_RESPONSE", err)
		}
		if err := conn.WriteFrame(wire.Frame{Type: wire.TypeSigPublicKey, Payload: pubRaw}); err != nil {
			return ioError("AWAIT_RESPONSE", err)
		}
		tr.Append(pubRaw)

		f, err = conn.ReadFrame()
		if err != nil {
			return ioError("AWAIT_RESPONSE", err)
		}
	}

	if f.Type != wire.TypeKemKeyRequest {
		return protocolError("AWAIT_RESPONSE", fmt.Sprintf("expected KEM-KEY-REQUEST, got %s", f.Type))
	}
	return nil
}

func signAndSendKEMKey(conn *wire.Conn, tr *transcript.Buffer, longTerm keystore.KeyPair, kemPubRaw []byte) error {
	sig := pqcrypto.Sign(longTerm.Secret, kemPubRaw)

	payload := make([]byte, 0, len(kemPubRaw)+len(sig))
	payload = append(payload, kemPubRaw...)
	payload = append(payload, sig...)

	if err := conn.WriteFrame(wire.Frame{Type: wire.TypeKemPublicKeySigned, Payload: payload}); err != nil {
		return ioError("SIGN_KEM", err)
	}
	tr.Append(payload)
	return nil
}

func awaitSecretAndDecapsulate(conn *wire.Conn, tr *transcript.Buffer, kemPair pqcrypto.KEMKeyPair) ([]byte, error) {
	f, err := conn.ReadFrame()
	if err != nil {
		return nil, ioError("AWAIT_SECRET", err)
	}
	if f.Type != wire.TypeEncryptedSecret {
		return nil, protocolError("AWAIT_SECRET", fmt.Sprintf("expected ENCRYPTED-SECRET, got %s", f.Type))
	}

	tr.Append(f.Payload)

	secret, err := pqcrypto.Decapsulate(kemPair.Secret, f.Payload)
	if err != nil {
		return nil, cryptoFailure("AWAIT_SECRET", err)
	}
	return secret, nil
}

// checkServerHMAC implements initiator state AWAIT_SERVER_HMAC. The value
// this side computes as "expected" is, by construction, the same tag it
// sent in SEND_HMAC (both are hmac(secret, transcript) over an identical
// transcript): this check is really "did the responder echo our own tag
// back", not an independent server authentication. The comparison is
// still done in constant time regardless.
func checkServerHMAC(conn *wire.Conn, tr *transcript.Buffer, secret []byte) error {
	f, err := conn.ReadFrame()
	if err != nil {
		return ioError("AWAIT_SERVER_HMAC", err)
	}
	if f.Type != wire.TypeHmacTag {
		return protocolError("AWAIT_SERVER_HMAC", fmt.Sprintf("expected HMAC-TAG, got %s", f.Type))
	}

	expected := pqcrypto.HMAC(secret, tr.Bytes())
	if !pqcrypto.ConstantTimeEqual(expected, f.Payload) {
		return hmacMismatch("AWAIT_SERVER_HMAC")
	}
	return nil
}
