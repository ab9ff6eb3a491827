package localrepo

import (
	"github.com/distr1/cachecore/internal/model"
	"github.com/distr1/cachecore/internal/xmlschema"
)

func toXML(b model.Build) xmlschema.BuildInfo {
	doc := xmlschema.BuildInfo{
		CacheImplementationVersion: b.CacheImplementationVersion,
		HashAlgorithm:              b.HashAlgorithm,
		Final:                      b.Final,
		SCM: xmlschema.SCM{
			SourceBranch: b.SCM.SourceBranch,
			Revision:     b.SCM.Revision,
		},
		ProjectsInputInfo: xmlschema.ProjectsInputInfo{
			Checksum: b.Fingerprint.Checksum,
		},
		Artifact: artifactToXML(b.Artifact),
		Goals:    append([]string(nil), b.Goals...),
	}
	for _, it := range b.Fingerprint.Items {
		doc.ProjectsInputInfo.Items = append(doc.ProjectsInputInfo.Items, xmlschema.Item{
			Type:         it.Type,
			Key:          it.Key,
			Hash:         it.Hash,
			FileChecksum: it.FileChecksum,
		})
	}
	for _, a := range b.AttachedArtifacts {
		doc.AttachedArtifacts = append(doc.AttachedArtifacts, *artifactToXML(a))
	}
	for _, ex := range b.Executions {
		x := xmlschema.Execution{ExecutionKey: ex.ExecutionKey, MojoClassName: ex.MojoClassName}
		for _, p := range ex.Properties {
			x.Properties = append(x.Properties, xmlschema.Property{Name: p.Name, Value: p.Value, Tracked: p.Tracked})
		}
		doc.Executions = append(doc.Executions, x)
	}
	return doc
}

func artifactToXML(a model.ArtifactDescriptor) *xmlschema.Artifact {
	return &xmlschema.Artifact{
		GroupID:    a.GroupID,
		ArtifactID: a.ArtifactID,
		Version:    a.Version,
		Classifier: a.Classifier,
		Type:       a.Type,
		FileName:   a.FileName,
		FileHash:   a.FileHash,
		FileSize:   a.FileSize,
	}
}

func fromXML(doc xmlschema.BuildInfo) model.Build {
	b := model.Build{
		CacheImplementationVersion: doc.CacheImplementationVersion,
		HashAlgorithm:              doc.HashAlgorithm,
		Final:                      doc.Final,
		SCM: model.SCMInfo{
			SourceBranch: doc.SCM.SourceBranch,
			Revision:     doc.SCM.Revision,
		},
		Fingerprint: model.ProjectsInputInfo{Checksum: doc.ProjectsInputInfo.Checksum},
		Goals:       append([]string(nil), doc.Goals...),
		Source:      model.SourceLocal,
	}
	for _, it := range doc.ProjectsInputInfo.Items {
		b.Fingerprint.Items = append(b.Fingerprint.Items, model.DigestItem{
			Type:         it.Type,
			Key:          it.Key,
			Hash:         it.Hash,
			FileChecksum: it.FileChecksum,
		})
	}
	if doc.Artifact != nil {
		b.Artifact = artifactFromXML(*doc.Artifact)
	}
	for _, a := range doc.AttachedArtifacts {
		b.AttachedArtifacts = append(b.AttachedArtifacts, artifactFromXML(a))
	}
	for _, ex := range doc.Executions {
		c := model.CompletedExecution{ExecutionKey: ex.ExecutionKey, MojoClassName: ex.MojoClassName}
		for _, p := range ex.Properties {
			c.Properties = append(c.Properties, model.PropertyValue{Name: p.Name, Value: p.Value, Tracked: p.Tracked})
		}
		b.Executions = append(b.Executions, c)
	}
	return b
}

func artifactFromXML(a xmlschema.Artifact) model.ArtifactDescriptor {
	return model.ArtifactDescriptor{
		GroupID:    a.GroupID,
		ArtifactID: a.ArtifactID,
		Version:    a.Version,
		Classifier: a.Classifier,
		Type:       a.Type,
		FileName:   a.FileName,
		FileHash:   a.FileHash,
		FileSize:   a.FileSize,
	}
}
