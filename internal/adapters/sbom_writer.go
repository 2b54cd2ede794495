package adapters

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"packstash/internal/types"
)

type SBOMWriterAdapter struct{}

func NewSBOMWriterAdapter() SBOMWriterAdapter {
	return SBOMWriterAdapter{}
}

// WriteSBOM renders a Request Output as an SPDX 2.3 document. Every
// package carries the digest that was actually verified during fetch and
// its purl identity, so the document can stand as supply-chain
// attestation for the offline cache.
func (a SBOMWriterAdapter) WriteSBOM(dir string, output types.RequestOutput) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("sbom directory is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create sbom directory").
			WithCause(err)
	}

	type spdxCreationInfo struct {
		Created  string   `json:"created"`
		Creators []string `json:"creators"`
	}
	type spdxChecksum struct {
		Algorithm     string `json:"algorithm"`
		ChecksumValue string `json:"checksumValue"`
	}
	type spdxExternalRef struct {
		ReferenceCategory string `json:"referenceCategory"`
		ReferenceType     string `json:"referenceType"`
		ReferenceLocator  string `json:"referenceLocator"`
	}
	type spdxPackage struct {
		SPDXID           string            `json:"SPDXID"`
		Name             string            `json:"name"`
		VersionInfo      string            `json:"versionInfo"`
		DownloadLocation string            `json:"downloadLocation"`
		Checksums        []spdxChecksum    `json:"checksums,omitempty"`
		ExternalRefs     []spdxExternalRef `json:"externalRefs"`
		LicenseConcluded string            `json:"licenseConcluded"`
		LicenseDeclared  string            `json:"licenseDeclared"`
		Supplier         string            `json:"supplier"`
	}
	type spdxRelationship struct {
		SpdxElementID      string `json:"spdxElementId"`
		RelationshipType   string `json:"relationshipType"`
		RelatedSpdxElement string `json:"relatedSpdxElement"`
	}

	payload := struct {
		SPDXVersion       string             `json:"spdxVersion"`
		DataLicense       string             `json:"dataLicense"`
		SPDXID            string             `json:"SPDXID"`
		Name              string             `json:"name"`
		DocumentNamespace string             `json:"documentNamespace"`
		CreationInfo      spdxCreationInfo   `json:"creationInfo"`
		Packages          []spdxPackage      `json:"packages"`
		Relationships     []spdxRelationship `json:"relationships"`
		DocumentDescribes []string           `json:"documentDescribes"`
	}{
		SPDXVersion:       "SPDX-2.3",
		DataLicense:       "CC0-1.0",
		SPDXID:            "SPDXRef-DOCUMENT",
		Name:              fmt.Sprintf("packstash run %s", output.RunID),
		DocumentNamespace: fmt.Sprintf("https://packstash.dev/spdx/runs/%s", output.RunID),
		CreationInfo: spdxCreationInfo{
			Created:  output.FinishedAt,
			Creators: []string{"Tool: " + output.Tool},
		},
	}

	for _, component := range output.Components() {
		spdxID := spdxPackageID(component)
		downloadLocation := component.Origin.URL
		if downloadLocation == "" {
			downloadLocation = "NOASSERTION"
		}
		pkg := spdxPackage{
			SPDXID:           spdxID,
			Name:             component.Name,
			VersionInfo:      component.Version,
			DownloadLocation: downloadLocation,
			ExternalRefs: []spdxExternalRef{{
				ReferenceCategory: "PACKAGE-MANAGER",
				ReferenceType:     "purl",
				ReferenceLocator:  component.Purl,
			}},
			LicenseConcluded: "NOASSERTION",
			LicenseDeclared:  "NOASSERTION",
			Supplier:         "NOASSERTION",
		}
		if component.Digest != "" {
			pkg.Checksums = []spdxChecksum{{
				Algorithm:     strings.ToUpper(component.Digest.Algorithm()),
				ChecksumValue: component.Digest.Hex(),
			}}
		}
		payload.Packages = append(payload.Packages, pkg)
		payload.DocumentDescribes = append(payload.DocumentDescribes, spdxID)
		payload.Relationships = append(payload.Relationships, spdxRelationship{
			SpdxElementID:      "SPDXRef-DOCUMENT",
			RelationshipType:   "DESCRIBES",
			RelatedSpdxElement: spdxID,
		})
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to marshal sbom payload").
			WithCause(err)
	}
	path := filepath.Join(dir, output.RunID+".sbom.json")
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write sbom file").
			WithCause(err)
	}
	return path, nil
}

func spdxPackageID(component types.Component) string {
	sanitize := strings.NewReplacer("/", "-", "@", "-", "_", "-", ".", "-", ":", "-")
	return fmt.Sprintf("SPDXRef-Package-%s-%s-%s",
		component.Ecosystem, sanitize.Replace(component.Name), sanitize.Replace(component.Version))
}
