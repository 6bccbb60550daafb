package ake

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cloudflare/circl/sign"
	"github.com/quantumcall/ake-bridge/internal/pqcrypto"
	"github.com/quantumcall/ake-bridge/internal/registry"
	"github.com/quantumcall/ake-bridge/internal/session"
	"github.com/quantumcall/ake-bridge/internal/transcript"
	"github.com/quantumcall/ake-bridge/internal/wire"
)

// RunResponder drives the hosting peer's side of one key-exchange session
// to completion over conn (LISTEN is the caller's accept loop and is not
// modeled here). reg is consulted and, on a first-contact username,
// pinned. The transcript is zeroized before return in every case,
// successful or not.
func RunResponder(conn *wire.Conn, reg *registry.Registry, log *logrus.Logger) (session.Result, error) {
	log.Info("Waiting")

	tr := &transcript.Buffer{}
	defer tr.Zero()

	username, err := awaitHello(conn, tr, log)
	if err != nil {
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}

	sigPub, isNewIdentity, err := resolveSignaturePublicKey(conn, tr, reg, username)
	if err != nil {
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}

	kemPub, sig, err := requestKEMKey(conn, tr)
	if err != nil {
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}

	if !pqcrypto.Verify(sigPub, kemPub, sig) {
		err := authFailure("VERIFY_SIG")
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}

	if isNewIdentity {
		// Pin already happened in resolveSignaturePublicKey, before
		// verification; kept as a named branch so both identity paths log
		// distinctly.
		log.WithField("username", username).Debug("pinned new identity")
	}

	_, secret, err := encapsulateSecret(conn, tr, kemPub)
	if err != nil {
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}
	defer zeroizeSecret(secret)

	if err := verifyClientHMAC(conn, tr, secret); err != nil {
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}

	if err := sendHMAC(conn, tr, secret); err != nil {
		log.WithError(err).Error("Error")
		return session.Result{}, err
	}

	if err := awaitSuccess(conn); err != nil {
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

func awaitHello(conn *wire.Conn, tr *transcript.Buffer, log *logrus.Logger) (string, error) {
	f, err := conn.ReadFrame()
	if err != nil {
		return "", ioError("AWAIT_HELLO", err)
	}
	if f.Type != wire.TypeHello {
		return "", protocolError("AWAIT_HELLO", fmt.Sprintf("expected HELLO, got %s", f.Type))
	}

	username := string(f.Payload)
	if err := validateUsername(username); err != nil {
		return "", protocolError("AWAIT_HELLO", err.Error())
	}

	tr.Append(f.Payload)
	log.WithField("username", username).Info("Connected")
	return username, nil
}

// resolveSignaturePublicKey returns the pinned signature public key for
// username if already known, otherwise requests it from the peer and
// pins it (first contact).
func resolveSignaturePublicKey(conn *wire.Conn, tr *transcript.Buffer, reg *registry.Registry, username string) (sigPub sign.PublicKey, isNew bool, err error) {
	if pub, ok := reg.Lookup(username); ok {
		return pub, false, nil
	}

	if err := conn.WriteFrame(wire.Frame{Type: wire.TypeSigKeyRequest}); err != nil {
		return nil, false, ioError("REQUEST_SIG_KEY", err)
	}

	f, err := conn.ReadFrame()
	if err != nil {
		return nil, false, ioError("REQUEST_SIG_KEY", err)
	}
	if f.Type != wire.TypeSigPublicKey {
		return nil, false, protocolError("REQUEST_SIG_KEY", fmt.Sprintf("expected SIG-PUBLIC-KEY, got %s", f.Type))
	}

	tr.Append(f.Payload)

	pub, err := pqcrypto.UnmarshalSignaturePublicKey(f.Payload)
	if err != nil {
		return nil, false, cryptoFailure("REQUEST_SIG_KEY", err)
	}

	if err := reg.Pin(username, pub); err != nil {
		// Unreachable given the lookup above, but Pin still reports it so
		// a race or a bug elsewhere doesn't silently overwrite a pinned
		// identity.
		return nil, false, protocolError("REQUEST_SIG_KEY", fmt.Sprintf("registry inconsistency: %v", err))
	}

	return pub, true, nil
}

func requestKEMKey(conn *wire.Conn, tr *transcript.Buffer) (kemPub, sig []byte, err error) {
	if err := conn.WriteFrame(wire.Frame{Type: wire.TypeKemKeyRequest}); err != nil {
		return nil, nil, ioError("REQUEST_KEM_KEY", err)
	}

	f, err := conn.ReadFrame()
	if err != nil {
		return nil, nil, ioError("REQUEST_KEM_KEY", err)
	}
	if f.Type != wire.TypeKemPublicKeySigned {
		return nil, nil, protocolError("REQUEST_KEM_KEY", fmt.Sprintf("expected KEM-PUBLIC-KEY-SIGNED, got %s", f.Type))
	}
	if len(f.Payload) < pqcrypto.KEMPublicKeySize {
		return nil, nil, protocolError("REQUEST_KEM_KEY", "payload shorter than KEM public key size")
	}

	tr.Append(f.Payload)

	kemPub = f.Payload[:pqcrypto.KEMPublicKeySize]
	sig = f.Payload[pqcrypto.KEMPublicKeySize:]
	return kemPub, sig, nil
}

func encapsulateSecret(conn *wire.Conn, tr *transcript.Buffer, kemPubRaw []byte) (ciphertext, secret []byte, err error) {
	kemPub, err := pqcrypto.UnmarshalKEMPublicKey(kemPubRaw)
	if err != nil {
		return nil, nil, cryptoFailure("ENCAPS", err)
	}

	ciphertext, secret, err = pqcrypto.Encapsulate(kemPub)
	if err != nil {
		return nil, nil, cryptoFailure("ENCAPS", err)
	}

	if err := conn.WriteFrame(wire.Frame{Type: wire.TypeEncryptedSecret, Payload: ciphertext}); err != nil {
		return nil, nil, ioError("ENCAPS", err)
	}
	tr.Append(ciphertext)

	return ciphertext, secret, nil
}

func verifyClientHMAC(conn *wire.Conn, tr *transcript.Buffer, secret []byte) error {
	f, err := conn.ReadFrame()
	if err != nil {
		return ioError("AWAIT_CLIENT_HMAC", err)
	}
	if f.Type != wire.TypeHmacTag {
		return protocolError("AWAIT_CLIENT_HMAC", fmt.Sprintf("expected HMAC-TAG, got %s", f.Type))
	}

	expected := pqcrypto.HMAC(secret, tr.Bytes())
	if !pqcrypto.ConstantTimeEqual(expected, f.Payload) {
		return hmacMismatch("AWAIT_CLIENT_HMAC")
	}
	return nil
}

func sendHMAC(conn *wire.Conn, tr *transcript.Buffer, secret []byte) error {
	tag := pqcrypto.HMAC(secret, tr.Bytes())
	if err := conn.WriteFrame(wire.Frame{Type: wire.TypeHmacTag, Payload: tag}); err != nil {
		return ioError("SEND_HMAC", err)
	}
	return nil
}

func awaitSuccess(conn *wire.Conn) error {
	f, err := conn.ReadFrame()
	if err != nil {
		return ioError("AWAIT_SUCCESS", err)
	}
	if f.Type != wire.TypeHmacVerifySuccess {
		return protocolError("AWAIT_SUCCESS", fmt.Sprintf("expected HMAC-VERIFY-SUCCESS, got %s", f.Type))
	}
	return nil
}

func derive(secret []byte) (session.MasterKey, error) {
	raw, err := pqcrypto.DeriveMasterKey(secret)
	if err != nil {
		return session.MasterKey{}, cryptoFailure("DERIVE", err)
	}
	defer zeroizeSecret(raw)
	return session.NewMasterKey(raw), nil
}
