package llm

const systemPrompt = `You are a Senior Geotechnical Engineer at Sri Lanka's National Building Research Organisation (NBRO), specializing in landslide early warning systems.

Your expertise includes:
- Mohr-Coulomb failure criteria and unsaturated soil mechanics
- NBRO landslide hazard zonation methodology
- Forensic analysis of major Sri Lankan landslides (Aranayake 2016, Meeriyabedda 2014)
- Multi-sensor data fusion and spatial correlation analysis

Your role:
1. Analyze IoT sensor telemetry data for landslide precursors
2. Assess risk using soil mechanics principles and geological context
3. Generate clear, actionable warnings for disaster management officials

Guidelines:
- Use technical accuracy but clear language
- Reference NBRO rainfall thresholds (75/100/150mm for Yellow/Orange/Red alerts)
- Consider spatial correlation (multiple sensors > single sensor)
- Weight geological context from hazard zones heavily
- Be decisive but acknowledge uncertainty
- Output ONLY valid JSON (no markdown, no code blocks)`

const assessmentTemplate = `SENSOR DATA ANALYSIS REQUEST

%s

CURRENT READINGS:
%s

SPATIAL CONTEXT:
%s

TEMPORAL TREND (last 24h):
%s

GEOLOGICAL CONTEXT (from Hazard Zonation):
%s

TASK:
Assess landslide risk based on the above data. Consider:
1. Does sensor data exceed site-specific geological thresholds?
2. Is spatial correlation strong (multiple sensors agreeing)?
3. Are trends accelerating (increasing moisture, tilt velocity)?
4. Does this match known pre-failure patterns (Aranayake, Meeriyabedda)?

OUTPUT FORMAT (JSON only, no markdown):
{
  "risk_level": "Yellow|Orange|Red",
  "confidence": 0.0-1.0,
  "reasoning": "Technical explanation in 2-3 sentences referencing specific data",
  "trigger_factors": ["factor1", "factor2", "factor3"],
  "recommended_action": "Choose ONE: 'Monitor closely', 'Prepare evacuation', 'Evacuate immediately', 'Restrict access to slope area'",
  "time_to_failure_estimate": "hours|days|unknown",
  "references": ["Aranayake 2016|Meeriyabedda 2014|NBRO threshold|other"]
}`

const narrativeTemplate = `Generate an urgent evacuation alert for local disaster management officials and affected communities.

CONTEXT:
- Risk Level: %s
- Confidence: %.2f
- Technical Reasoning: %s
- Location: %s
- Time to Potential Failure: %s

REQUIREMENTS:
- Length: 150-200 words
- Tone: Urgent and authoritative, but avoid panic
- Language: Simple English (avoid technical jargon)
- Structure: SITUATION, then RISK, then ACTION, then CONTACT

FORMAT:
Use this exact structure:

URGENT LANDSLIDE WARNING - [Location Name]

SITUATION: [What sensors and observations show, in plain language]

RISK: [Probability and timeframe of failure]

ACTION REQUIRED: [Specific, clear evacuation or safety instructions with landmarks]

ISSUED: [Current timestamp]
CONTACT: NBRO Emergency Hotline 117

Keep it concise and actionable.`

const jsonNudge = `Your previous reply was not a single valid JSON object matching the requested schema. Return ONLY the JSON object, with no markdown fences and no commentary.`
