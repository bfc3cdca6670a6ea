package errors

import "errors"

// Input errors indicate a malformed request. They are never retried.
var (
	// ErrMalformedPermission indicates a permission has an unknown aco/aro tag,
	// a non-UUID identifier, or an access level outside {1, 7, 15}.
	ErrMalformedPermission = errors.New("malformed permission")

	// ErrMalformedChange indicates a permission change cannot be applied to the batch.
	ErrMalformedChange = errors.New("malformed permission change")

	// ErrDuplicateSubject indicates two permissions name the same subject on one object.
	ErrDuplicateSubject = errors.New("duplicate permission subject")
)

// Data errors indicate missing or inconsistent upstream data.
var (
	// ErrGroupNotFound indicates a group subject could not be resolved to its members.
	ErrGroupNotFound = errors.New("group not found")

	// ErrResourceNotFound indicates the resource does not exist in the store.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrFolderNotFound indicates the folder does not exist in the store.
	ErrFolderNotFound = errors.New("folder not found")

	// ErrSecretNotFound indicates no secret exists for the resource and user.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrNoSecretForActor indicates the acting user holds no secret for the
	// resource and therefore cannot share it with new readers.
	ErrNoSecretForActor = errors.New("acting user has no secret for this resource")
)

// Policy errors indicate a request that violates an access-control rule.
var (
	// ErrLastOwnerRemoval indicates the change would leave a resource without an owner.
	ErrLastOwnerRemoval = errors.New("change would remove the last owner")
)

// Key and cryptographic errors.
var (
	// ErrUnusableRecipientKey indicates a reader's public key is missing, revoked,
	// expired, or too weak to encrypt for.
	ErrUnusableRecipientKey = errors.New("unusable recipient key")

	// ErrPublicKeyNotFound indicates a public key could not be located.
	ErrPublicKeyNotFound = errors.New("public key not found")

	// ErrInvalidPublicKey indicates a public key is malformed or unsupported.
	ErrInvalidPublicKey = errors.New("invalid or unsupported public key format")

	// ErrInvalidPrivateKey indicates the private key is malformed or unsupported.
	ErrInvalidPrivateKey = errors.New("invalid or unsupported private key format")

	// ErrEncryptFailed indicates a secret could not be encrypted.
	ErrEncryptFailed = errors.New("failed to encrypt secret")

	// ErrDecryptFailed indicates a secret could not be decrypted.
	ErrDecryptFailed = errors.New("failed to decrypt secret")

	// ErrPassphraseRequired indicates the private key is protected and no passphrase was given.
	ErrPassphraseRequired = errors.New("private key requires a passphrase")

	// ErrPlaintextReleased indicates a plaintext was used after being released.
	ErrPlaintextReleased = errors.New("plaintext already released")
)

// Integrity errors are alarms. They are reported, never silently corrected.
var (
	// ErrReaderSecretMismatch indicates the secret holders of a resource differ
	// from its effective reader set.
	ErrReaderSecretMismatch = errors.New("reader/secret mismatch")
)

// Orchestration and project errors.
var (
	// ErrCancelled indicates a batch item was not processed because the batch was cancelled.
	ErrCancelled = errors.New("cancelled before processing")

	// ErrProjectNotInitialized indicates the project has not been set up with aclsync.
	ErrProjectNotInitialized = errors.New("project has not been initialized")

	// ErrProjectAlreadyInitialized indicates the project has already been set up.
	ErrProjectAlreadyInitialized = errors.New("project has already been initialized")

	// ErrInvalidConfig indicates the configuration is malformed.
	ErrInvalidConfig = errors.New("configuration is invalid")

	// ErrInvalidDateFormat indicates a date filter could not be parsed.
	ErrInvalidDateFormat = errors.New("invalid date format")
)
