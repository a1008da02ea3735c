package storage

import (
	"fmt"
	"strings"
)

// ValidateObjectPath rejects empty paths and traversal sequences before an
// object key is handed to the signing layer or embedded in a public URL.
func ValidateObjectPath(object string) (string, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return "", errInvalidObject
	}
	if strings.HasPrefix(object, "/") {
		return "", fmt.Errorf("storage: object path must be relative")
	}
	if strings.Contains(object, "\\") {
		return "", fmt.Errorf("storage: object path contains invalid characters")
	}
	if strings.Contains(object, "..") {
		return "", fmt.Errorf("storage: object path contains invalid traversal sequence")
	}
	return object, nil
}

// ListingFilePath composes the object key for a listing's purchasable file.
func ListingFilePath(listingID, fileName string) (string, error) {
	listingID, err := validateSegment("listingID", listingID)
	if err != nil {
		return "", err
	}
	fileName, err = validateSegment("fileName", fileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("files/%s/%s", listingID, fileName), nil
}

// ListingPreviewPath composes the object key for a listing's public preview.
func ListingPreviewPath(listingID, fileName string) (string, error) {
	listingID, err := validateSegment("listingID", listingID)
	if err != nil {
		return "", err
	}
	fileName, err = validateSegment("fileName", fileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("previews/%s/%s", listingID, fileName), nil
}

// PublicObjectURL returns the unauthenticated HTTPS URL for an object in a
// publicly readable bucket. Preview assets are served this way.
func PublicObjectURL(bucket, object string) (string, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return "", errInvalidBucket
	}
	object, err := ValidateObjectPath(object)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, object), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
